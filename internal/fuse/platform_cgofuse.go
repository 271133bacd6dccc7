//go:build cgofuse
// +build cgofuse

package fuse

import (
	"github.com/ldapfs/ldapfs/internal/resolver"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// CreatePlatformMountManager creates the cgofuse mount manager
func CreatePlatformMountManager(r *resolver.Resolver, config *MountConfig, logger *utils.StructuredLogger) PlatformFileSystem {
	return NewCgoFuseMountManager(r, config, logger)
}
