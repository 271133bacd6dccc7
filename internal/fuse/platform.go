//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"github.com/ldapfs/ldapfs/internal/resolver"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// CreatePlatformMountManager creates the go-fuse mount manager
func CreatePlatformMountManager(r *resolver.Resolver, config *MountConfig, logger *utils.StructuredLogger) PlatformFileSystem {
	filesystem := NewFileSystem(r, config.FileSystemConfig(), logger)
	return NewMountManager(filesystem, config, logger)
}
