//go:build cgofuse
// +build cgofuse

package fuse

import (
	"github.com/ldapfs/ldapfs/internal/resolver"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// CgoFuseMountManager manages cgofuse-based mounts. The host owns the mount
// lifecycle, so the manager only forwards to the filesystem.
type CgoFuseMountManager struct {
	*CgoFuseFS
	config *MountConfig
}

var _ PlatformFileSystem = (*CgoFuseMountManager)(nil)

// NewCgoFuseMountManager creates a new cgofuse mount manager
func NewCgoFuseMountManager(r *resolver.Resolver, config *MountConfig, logger *utils.StructuredLogger) *CgoFuseMountManager {
	if config == nil {
		config = DefaultMountConfig("")
	}
	return &CgoFuseMountManager{
		CgoFuseFS: NewCgoFuseFS(r, config, logger),
		config:    config,
	}
}
