package fuse

import "context"

// PlatformFileSystem is a mounted filesystem, served by go-fuse or, with
// the cgofuse build tag, by cgofuse
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	Done() <-chan struct{}
	GetMountPoint() string
	GetStats() *FilesystemStats
}

var _ PlatformFileSystem = (*MountManager)(nil)
