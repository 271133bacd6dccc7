package fuse

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// FilesystemStats represents filesystem operation statistics
type FilesystemStats struct {
	Lookups   int64 `json:"lookups"`
	Getattrs  int64 `json:"getattrs"`
	Readdirs  int64 `json:"readdirs"`
	Opens     int64 `json:"opens"`
	Reads     int64 `json:"reads"`
	Mkdirs    int64 `json:"mkdirs"`
	Mknods    int64 `json:"mknods"`
	BytesRead int64 `json:"bytes_read"`
	Errors    int64 `json:"errors"`
}

// MountManager manages FUSE mount operations
type MountManager struct {
	mu         sync.Mutex
	filesystem *FileSystem
	server     *fuse.Server
	config     *MountConfig
	logger     *utils.StructuredLogger
	mounted    bool
	done       chan struct{}
}

// MountConfig contains mount-specific configuration
type MountConfig struct {
	MountPoint  string        `yaml:"mount_point"`
	Options     *MountOptions `yaml:"options"`
	Permissions *Permissions  `yaml:"permissions"`
}

// MountOptions contains FUSE mount options
type MountOptions struct {
	// Basic options
	ReadOnly   bool `yaml:"read_only"`
	AllowOther bool `yaml:"allow_other"`

	// Advanced options
	Debug        bool          `yaml:"debug"`
	FSName       string        `yaml:"fsname"`
	Subtype      string        `yaml:"subtype"`
	MaxRead      uint32        `yaml:"max_read"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// Permissions is the ownership reported for every node
type Permissions struct {
	UID uint32 `yaml:"uid"`
	GID uint32 `yaml:"gid"`
}

// DefaultMountConfig returns the configuration used when a manager gets nil
func DefaultMountConfig(mountPoint string) *MountConfig {
	return &MountConfig{
		MountPoint: mountPoint,
		Options: &MountOptions{
			FSName:       "ldapfs",
			Subtype:      "ldap",
			MaxRead:      128 * 1024,
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
		},
		Permissions: &Permissions{
			UID: safeIntToUint32(os.Getuid()),
			GID: safeIntToUint32(os.Getgid()),
		},
	}
}

// FileSystemConfig derives the node configuration from the mount options
func (c *MountConfig) FileSystemConfig() *Config {
	config := &Config{
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
	if c.Options != nil {
		config.ReadOnly = c.Options.ReadOnly
		config.AttrTimeout = c.Options.AttrTimeout
		config.EntryTimeout = c.Options.EntryTimeout
	}
	if c.Permissions != nil {
		config.UID = c.Permissions.UID
		config.GID = c.Permissions.GID
	}
	return config
}

// NewMountManager creates a new mount manager
func NewMountManager(filesystem *FileSystem, config *MountConfig, logger *utils.StructuredLogger) *MountManager {
	if config == nil {
		config = DefaultMountConfig("")
	}
	if config.Options == nil {
		config.Options = DefaultMountConfig(config.MountPoint).Options
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &MountManager{
		filesystem: filesystem,
		config:     config,
		logger:     logger.WithComponent("mount"),
	}
}

// Mount mounts the filesystem at the configured mount point and serves it
// in the background
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return m.mountError("filesystem is already mounted", nil)
	}

	if err := m.validateMountPoint(); err != nil {
		return m.mountError("invalid mount point", err)
	}

	opts := m.buildFUSEOptions()

	server, err := fs.Mount(m.config.MountPoint, m.filesystem.Root(), opts)
	if err != nil {
		return m.mountError("failed to mount filesystem", err)
	}

	m.server = server
	m.mounted = true
	m.done = make(chan struct{})

	m.logger.Info("Filesystem mounted", map[string]interface{}{
		"mount_point": m.config.MountPoint,
		"read_only":   m.config.Options.ReadOnly,
	})

	// fs.Mount already serves; Wait returns once the kernel unmounts.
	go func(server *fuse.Server, done chan struct{}) {
		server.Wait()
		m.mu.Lock()
		if m.server == server {
			m.mounted = false
		}
		m.mu.Unlock()
		close(done)
		m.logger.Info("FUSE server stopped", map[string]interface{}{"mount_point": m.config.MountPoint})
	}(server, m.done)

	return nil
}

// Unmount unmounts the filesystem, falling back to a lazy unmount when the
// mount point is busy
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || m.server == nil {
		return errors.NewError(errors.ErrCodeUnmountFailed, "filesystem is not mounted").
			WithComponent("mount").
			WithContext("mount_point", m.config.MountPoint)
	}

	m.logger.Info("Unmounting filesystem", map[string]interface{}{"mount_point": m.config.MountPoint})

	if err := m.server.Unmount(); err != nil {
		m.logger.Warn("Normal unmount failed, trying force unmount", map[string]interface{}{
			"mount_point": m.config.MountPoint,
			"error":       err.Error(),
		})
		if forceErr := m.forceUnmount(); forceErr != nil {
			return errors.NewError(errors.ErrCodeUnmountFailed, "unmount failed").
				WithComponent("mount").
				WithContext("mount_point", m.config.MountPoint).
				WithContext("force_error", forceErr.Error()).
				WithCause(err)
		}
	}

	m.mounted = false
	m.server = nil
	return nil
}

// IsMounted checks if the filesystem is currently mounted
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// GetMountPoint returns the current mount point
func (m *MountManager) GetMountPoint() string {
	return m.config.MountPoint
}

// Done is closed when the FUSE server exits. It is nil before Mount.
func (m *MountManager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// GetStats returns filesystem statistics
func (m *MountManager) GetStats() *FilesystemStats {
	if m.filesystem == nil {
		return &FilesystemStats{}
	}
	return m.filesystem.GetStats().summary()
}

func (s *Stats) summary() *FilesystemStats {
	return &FilesystemStats{
		Lookups:   s.Lookups,
		Getattrs:  s.Getattrs,
		Readdirs:  s.Readdirs,
		Opens:     s.Opens,
		Reads:     s.Reads,
		Mkdirs:    s.Mkdirs,
		Mknods:    s.Mknods,
		BytesRead: s.BytesRead,
		Errors:    s.Errors,
	}
}

// Helper methods

func (m *MountManager) mountError(message string, cause error) error {
	err := errors.NewError(errors.ErrCodeMountFailed, message).
		WithComponent("mount").
		WithContext("mount_point", m.config.MountPoint)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

func (m *MountManager) validateMountPoint() error {
	if m.config.MountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}

	info, err := os.Stat(m.config.MountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mount point does not exist: %s", m.config.MountPoint)
		}
		return fmt.Errorf("cannot access mount point: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.config.MountPoint)
	}

	entries, err := os.ReadDir(m.config.MountPoint)
	if err != nil {
		return fmt.Errorf("cannot read mount point directory: %w", err)
	}
	if len(entries) > 0 {
		m.logger.Warn("Mount point is not empty", map[string]interface{}{"mount_point": m.config.MountPoint})
	}

	if isMountedAt(m.config.MountPoint) {
		return fmt.Errorf("mount point %s is already mounted", m.config.MountPoint)
	}

	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	options := m.config.Options
	attrTimeout := options.AttrTimeout
	entryTimeout := options.EntryTimeout

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:         options.FSName,
			FsName:       options.FSName,
			Debug:        options.Debug,
			AllowOther:   options.AllowOther,
			MaxReadAhead: int(options.MaxRead),
		},

		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	}

	if m.config.Permissions != nil {
		opts.UID = m.config.Permissions.UID
		opts.GID = m.config.Permissions.GID
	}

	if options.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	if options.Subtype != "" {
		opts.Options = append(opts.Options, fmt.Sprintf("subtype=%s", options.Subtype))
	}

	return opts
}

func (m *MountManager) forceUnmount() error {
	// MNT_DETACH, then MNT_FORCE
	err := syscall.Unmount(m.config.MountPoint, 2)
	if err == nil {
		return nil
	}
	return syscall.Unmount(m.config.MountPoint, 1)
}

// isMountedAt reports whether /proc/mounts lists mountPoint. Systems
// without /proc report false.
func isMountedAt(mountPoint string) bool {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false
	}
	defer f.Close()

	return mountsContain(bufio.NewScanner(f), mountPoint)
}

func mountsContain(scanner *bufio.Scanner, mountPoint string) bool {
	target := filepath.Clean(mountPoint)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		// Spaces in mount points are octal-escaped.
		if strings.ReplaceAll(fields[1], `\040`, " ") == target {
			return true
		}
	}
	return false
}

// MountWatcher logs when the kernel mount table disagrees with the manager,
// for example after an external umount
type MountWatcher struct {
	manager  *MountManager
	logger   *utils.StructuredLogger
	interval time.Duration
	probe    func(string) bool
	stopCh   chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// NewMountWatcher creates a new mount watcher
func NewMountWatcher(manager *MountManager, interval time.Duration) *MountWatcher {
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &MountWatcher{
		manager:  manager,
		logger:   manager.logger,
		interval: interval,
		probe:    isMountedAt,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start starts the mount watcher
func (w *MountWatcher) Start() {
	go w.run()
}

// Stop stops the mount watcher and waits for it to exit
func (w *MountWatcher) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	<-w.stopped
}

func (w *MountWatcher) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkMount()
		}
	}
}

// checkMount reports whether the manager and the mount table agree
func (w *MountWatcher) checkMount() bool {
	expectedMounted := w.manager.IsMounted()
	actuallyMounted := w.probe(w.manager.GetMountPoint())
	if expectedMounted == actuallyMounted {
		return true
	}

	fields := map[string]interface{}{"mount_point": w.manager.GetMountPoint()}
	if expectedMounted {
		w.logger.Warn("Filesystem should be mounted but appears unmounted", fields)
	} else {
		w.logger.Warn("Filesystem should be unmounted but appears mounted", fields)
	}
	return false
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if int64(i) > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}
