//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/ldapfs/ldapfs/internal/resolver"
	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/types"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// mountReadyTimeout bounds the wait for the host to call Init
const mountReadyTimeout = 5 * time.Second

// CgoFuseFS serves the resolver through cgofuse for macOS and Windows
type CgoFuseFS struct {
	fuse.FileSystemBase

	resolver   *resolver.Resolver
	config     *Config
	mountPoint string
	options    *MountOptions
	logger     *utils.StructuredLogger
	stats      *Stats

	mu      sync.RWMutex
	host    *fuse.FileSystemHost
	mounted bool
	ready   chan struct{}
	done    chan struct{}
}

// NewCgoFuseFS creates a new cgofuse-based filesystem
func NewCgoFuseFS(r *resolver.Resolver, mountConfig *MountConfig, logger *utils.StructuredLogger) *CgoFuseFS {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	options := mountConfig.Options
	if options == nil {
		options = DefaultMountConfig(mountConfig.MountPoint).Options
	}

	return &CgoFuseFS{
		resolver:   r,
		config:     mountConfig.FileSystemConfig(),
		mountPoint: mountConfig.MountPoint,
		options:    options,
		logger:     logger.WithComponent("cgofuse"),
		stats:      &Stats{},
	}
}

// Mount starts the host and waits until it has initialised the filesystem
func (fs *CgoFuseFS) Mount(ctx context.Context) error {
	fs.mu.Lock()
	if fs.mounted {
		fs.mu.Unlock()
		return errors.NewError(errors.ErrCodeMountFailed, "filesystem already mounted").
			WithComponent("cgofuse").
			WithContext("mount_point", fs.mountPoint)
	}

	fs.host = fuse.NewFileSystemHost(fs)
	fs.ready = make(chan struct{})
	fs.done = make(chan struct{})
	host, ready, done := fs.host, fs.ready, fs.done
	fs.mu.Unlock()

	options := fs.mountOptions()
	go func() {
		if !host.Mount(fs.mountPoint, options) {
			fs.logger.Error("cgofuse host failed to mount", map[string]interface{}{"mount_point": fs.mountPoint})
		}
		fs.mu.Lock()
		fs.mounted = false
		fs.mu.Unlock()
		close(done)
	}()

	select {
	case <-ready:
	case <-done:
		return errors.NewError(errors.ErrCodeMountFailed, "cgofuse host exited before the mount was ready").
			WithComponent("cgofuse").
			WithContext("mount_point", fs.mountPoint)
	case <-time.After(mountReadyTimeout):
		host.Unmount()
		return errors.NewError(errors.ErrCodeMountFailed, "timed out waiting for mount").
			WithComponent("cgofuse").
			WithContext("mount_point", fs.mountPoint)
	case <-ctx.Done():
		host.Unmount()
		return errors.NewError(errors.ErrCodeOperationCanceled, "mount canceled").
			WithComponent("cgofuse").
			WithCause(ctx.Err())
	}

	fs.mu.Lock()
	fs.mounted = true
	fs.mu.Unlock()

	fs.logger.Info("Filesystem mounted", map[string]interface{}{"mount_point": fs.mountPoint})
	return nil
}

func (fs *CgoFuseFS) mountOptions() []string {
	options := []string{
		"-o", fmt.Sprintf("fsname=%s", fs.options.FSName),
		"-o", fmt.Sprintf("attr_timeout=%g", fs.options.AttrTimeout.Seconds()),
		"-o", fmt.Sprintf("entry_timeout=%g", fs.options.EntryTimeout.Seconds()),
	}
	if fs.options.Subtype != "" && runtime.GOOS == "linux" {
		options = append(options, "-o", fmt.Sprintf("subtype=%s", fs.options.Subtype))
	}
	if fs.options.ReadOnly {
		options = append(options, "-o", "ro")
	}
	if fs.options.AllowOther {
		options = append(options, "-o", "allow_other")
	}
	if fs.options.Debug {
		options = append(options, "-d")
	}

	switch runtime.GOOS {
	case "darwin":
		options = append(options, "-o", "volname=ldapfs")
	case "windows":
		options = append(options, "-o", "FileSystemName=ldapfs")
	}
	return options
}

// Unmount unmounts the filesystem
func (fs *CgoFuseFS) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.mounted || fs.host == nil {
		return errors.NewError(errors.ErrCodeUnmountFailed, "filesystem not mounted").
			WithComponent("cgofuse").
			WithContext("mount_point", fs.mountPoint)
	}

	if !fs.host.Unmount() {
		return errors.NewError(errors.ErrCodeUnmountFailed, "unmount failed").
			WithComponent("cgofuse").
			WithContext("mount_point", fs.mountPoint)
	}

	fs.mounted = false
	fs.logger.Info("Filesystem unmounted", map[string]interface{}{"mount_point": fs.mountPoint})
	return nil
}

// IsMounted returns whether the filesystem is mounted
func (fs *CgoFuseFS) IsMounted() bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.mounted
}

// Done is closed when the host returns from Mount
func (fs *CgoFuseFS) Done() <-chan struct{} {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.done
}

// GetMountPoint returns the mount point
func (fs *CgoFuseFS) GetMountPoint() string {
	return fs.mountPoint
}

// GetStats returns filesystem statistics
func (fs *CgoFuseFS) GetStats() *FilesystemStats {
	fs.stats.mu.RLock()
	defer fs.stats.mu.RUnlock()
	return fs.stats.summary()
}

// FUSE Operations Implementation

// Init is called by the host once the filesystem is mounted
func (fs *CgoFuseFS) Init() {
	fs.mu.RLock()
	ready := fs.ready
	fs.mu.RUnlock()
	if ready != nil {
		close(ready)
	}
}

// Statfs reports a filesystem with no free space
func (fs *CgoFuseFS) Statfs(path string, stat *fuse.Statfs_t) int {
	stat.Bsize = types.BlockSize
	stat.Frsize = types.BlockSize
	stat.Namemax = 255
	return 0
}

// Getattr gets file attributes
func (fs *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	fs.count(func(s *Stats) { s.Getattrs++ })

	attr, errno := fs.resolver.Getattr(context.Background(), path)
	if errno != 0 {
		return fs.errc(errno)
	}
	fs.fillStat(stat, attr)
	return 0
}

// Opendir accepts directories only
func (fs *CgoFuseFS) Opendir(path string) (int, uint64) {
	attr, errno := fs.resolver.Getattr(context.Background(), path)
	if errno != 0 {
		return fs.errc(errno), ^uint64(0)
	}
	if !attr.IsDir() {
		return -fuse.ENOTDIR, ^uint64(0)
	}
	return 0, 0
}

// Readdir reads directory contents
func (fs *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fs.count(func(s *Stats) { s.Readdirs++ })

	listed, errno := fs.resolver.Readdir(context.Background(), path)
	if errno != 0 {
		return fs.errc(errno)
	}

	fill(".", nil, 0)
	fill("..", nil, 0)

	for _, e := range listed {
		stat := &fuse.Stat_t{Mode: fuse.S_IFREG | 0644, Nlink: 1}
		if e.IsDir() {
			stat = &fuse.Stat_t{Mode: fuse.S_IFDIR | 0755, Nlink: 2}
		}
		if !fill(e.Name, stat, 0) {
			break
		}
	}
	return 0
}

// Open opens an attribute file for reading
func (fs *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	fs.count(func(s *Stats) { s.Opens++ })

	if flags&(fuse.O_WRONLY|fuse.O_RDWR|fuse.O_TRUNC|fuse.O_APPEND) != 0 {
		if fs.config.ReadOnly {
			return -fuse.EROFS, ^uint64(0)
		}
		return -fuse.EACCES, ^uint64(0)
	}

	attr, errno := fs.resolver.Getattr(context.Background(), path)
	if errno != 0 {
		return fs.errc(errno), ^uint64(0)
	}
	if attr.IsDir() {
		return -fuse.EISDIR, ^uint64(0)
	}
	return 0, 0
}

// Read reads a window of the rendered attribute file
func (fs *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	start := time.Now()
	defer func() {
		fs.recordReadTime(time.Since(start))
	}()

	data, errno := fs.resolver.Read(context.Background(), path, len(buff), ofst)
	if errno != 0 {
		return fs.errc(errno)
	}

	n := copy(buff, data)
	fs.count(func(s *Stats) { s.BytesRead += int64(n) })
	return n
}

// Mkdir registers an overlay directory
func (fs *CgoFuseFS) Mkdir(path string, mode uint32) int {
	if fs.config.ReadOnly {
		return -fuse.EROFS
	}
	fs.count(func(s *Stats) { s.Mkdirs++ })
	return fs.errc(fs.resolver.Mkdir(context.Background(), path))
}

// Mknod accepts the all-attributes file and nothing else
func (fs *CgoFuseFS) Mknod(path string, mode uint32, dev uint64) int {
	if fs.config.ReadOnly {
		return -fuse.EROFS
	}
	fs.count(func(s *Stats) { s.Mknods++ })
	return fs.errc(fs.resolver.Mknod(context.Background(), path))
}

// Create is mknod followed by open
func (fs *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	if errc := fs.Mknod(path, mode, 0); errc != 0 {
		return errc, ^uint64(0)
	}
	return 0, 0
}

// Helper methods

func (fs *CgoFuseFS) fillStat(stat *fuse.Stat_t, attr *types.Attr) {
	perm := attr.Mode & 0777
	if attr.IsDir() {
		stat.Mode = fuse.S_IFDIR | perm
	} else {
		stat.Mode = fuse.S_IFREG | perm
	}
	stat.Size = int64(attr.Size)
	stat.Blocks = int64(attr.Blocks)
	stat.Blksize = types.BlockSize
	stat.Nlink = attr.Nlink
	stat.Uid = fs.config.UID
	stat.Gid = fs.config.GID

	ts := fuse.Timespec{Sec: attr.Mtime.Unix(), Nsec: int64(attr.Mtime.Nanosecond())}
	stat.Mtim = ts
	stat.Atim = ts
	stat.Ctim = ts
}

func (fs *CgoFuseFS) count(update func(*Stats)) {
	fs.stats.mu.Lock()
	update(fs.stats)
	fs.stats.mu.Unlock()
}

func (fs *CgoFuseFS) recordReadTime(duration time.Duration) {
	fs.stats.mu.Lock()
	defer fs.stats.mu.Unlock()

	fs.stats.Reads++
	fs.stats.AvgReadTime = runningAverage(fs.stats.AvgReadTime, duration, fs.stats.Reads)
}

var cgofuseErrnos = map[syscall.Errno]int{
	syscall.ENOENT: fuse.ENOENT,
	syscall.EPERM:  fuse.EPERM,
	syscall.EINVAL: fuse.EINVAL,
	syscall.EIO:    fuse.EIO,
	syscall.EROFS:  fuse.EROFS,
	syscall.EACCES: fuse.EACCES,
}

// errc converts a resolver errno to the negative cgofuse error code. The
// host's error numbering differs from syscall on Windows.
func (fs *CgoFuseFS) errc(errno syscall.Errno) int {
	if errno == 0 {
		return 0
	}
	if errno != syscall.ENOENT {
		fs.count(func(s *Stats) { s.Errors++ })
	}
	if code, ok := cgofuseErrnos[errno]; ok {
		return -code
	}
	return -fuse.EIO
}
