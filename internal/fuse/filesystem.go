package fuse

import (
	"context"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ldapfs/ldapfs/internal/resolver"
	"github.com/ldapfs/ldapfs/pkg/types"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// FileSystem adapts a resolver to the go-fuse node API
type FileSystem struct {
	resolver *resolver.Resolver
	config   *Config
	logger   *utils.StructuredLogger

	// Performance tracking
	stats *Stats
}

// Config represents FUSE filesystem configuration
type Config struct {
	// Ownership reported for every node
	UID uint32 `yaml:"uid"`
	GID uint32 `yaml:"gid"`

	// Reject mkdir and mknod with EROFS
	ReadOnly bool `yaml:"read_only"`

	// Kernel cache lifetimes for attributes and names
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// Stats tracks filesystem operation statistics
type Stats struct {
	mu sync.RWMutex

	// Operation counts
	Lookups  int64 `json:"lookups"`
	Getattrs int64 `json:"getattrs"`
	Readdirs int64 `json:"readdirs"`
	Opens    int64 `json:"opens"`
	Reads    int64 `json:"reads"`
	Mkdirs   int64 `json:"mkdirs"`
	Mknods   int64 `json:"mknods"`

	// Data transfer
	BytesRead int64 `json:"bytes_read"`

	// Error counts
	Errors int64 `json:"errors"`

	// Performance metrics
	AvgLookupTime time.Duration `json:"avg_lookup_time"`
	AvgReadTime   time.Duration `json:"avg_read_time"`
}

// NewFileSystem creates a new FUSE filesystem instance
func NewFileSystem(r *resolver.Resolver, config *Config, logger *utils.StructuredLogger) *FileSystem {
	if config == nil {
		config = &Config{
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
		}
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &FileSystem{
		resolver: r,
		config:   config,
		logger:   logger.WithComponent("fuse"),
		stats:    &Stats{},
	}
}

// Root returns the root inode
func (fs *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{
		fs:   fs,
		path: "/",
	}
}

// GetStats returns current filesystem statistics
func (fs *FileSystem) GetStats() *Stats {
	fs.stats.mu.RLock()
	defer fs.stats.mu.RUnlock()

	return &Stats{
		Lookups:       fs.stats.Lookups,
		Getattrs:      fs.stats.Getattrs,
		Readdirs:      fs.stats.Readdirs,
		Opens:         fs.stats.Opens,
		Reads:         fs.stats.Reads,
		Mkdirs:        fs.stats.Mkdirs,
		Mknods:        fs.stats.Mknods,
		BytesRead:     fs.stats.BytesRead,
		Errors:        fs.stats.Errors,
		AvgLookupTime: fs.stats.AvgLookupTime,
		AvgReadTime:   fs.stats.AvgReadTime,
	}
}

// DirectoryNode is the root, a host, a base scope, an LDAP object or an
// overlay directory
type DirectoryNode struct {
	fs.Inode
	fs   *FileSystem
	path string
}

var (
	_ fs.NodeGetattrer = (*DirectoryNode)(nil)
	_ fs.NodeLookuper  = (*DirectoryNode)(nil)
	_ fs.NodeReaddirer = (*DirectoryNode)(nil)
	_ fs.NodeMkdirer   = (*DirectoryNode)(nil)
	_ fs.NodeMknoder   = (*DirectoryNode)(nil)
	_ fs.NodeCreater   = (*DirectoryNode)(nil)
	_ fs.NodeStatfser  = (*DirectoryNode)(nil)
)

// Getattr gets directory attributes
func (n *DirectoryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.fs.count(func(s *Stats) { s.Getattrs++ })

	attr, errno := n.fs.resolver.Getattr(ctx, n.path)
	if errno != 0 {
		return n.fs.fail(errno)
	}
	n.fs.fillAttr(&out.Attr, attr)
	out.SetTimeout(n.fs.config.AttrTimeout)
	return 0
}

// Lookup looks up a child node by name
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	defer func() {
		n.fs.recordLookupTime(time.Since(start))
	}()

	childPath := n.joinPath(name)
	attr, errno := n.fs.resolver.Getattr(ctx, childPath)
	if errno != 0 {
		return nil, n.fs.fail(errno)
	}

	n.fs.fillEntry(out, attr)
	return n.createChildNode(ctx, childPath, attr), 0
}

// Readdir reads directory contents
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.fs.count(func(s *Stats) { s.Readdirs++ })

	listed, errno := n.fs.resolver.Readdir(ctx, n.path)
	if errno != 0 {
		return nil, n.fs.fail(errno)
	}

	entries := make([]fuse.DirEntry, 0, len(listed))
	for _, e := range listed {
		entries = append(entries, fuse.DirEntry{Name: e.Name, Mode: e.Mode})
	}

	return fs.NewListDirStream(entries), 0
}

// Mkdir registers an overlay directory
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, syscall.EROFS
	}
	n.fs.count(func(s *Stats) { s.Mkdirs++ })

	childPath := n.joinPath(name)
	if errno := n.fs.resolver.Mkdir(ctx, childPath); errno != 0 {
		return nil, n.fs.fail(errno)
	}

	attr := types.DirAttr(time.Now())
	n.fs.fillEntry(out, attr)
	return n.createChildNode(ctx, childPath, attr), 0
}

// Mknod accepts the all-attributes file and nothing else
func (n *DirectoryNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, syscall.EROFS
	}
	n.fs.count(func(s *Stats) { s.Mknods++ })

	childPath := n.joinPath(name)
	if errno := n.fs.resolver.Mknod(ctx, childPath); errno != 0 {
		return nil, n.fs.fail(errno)
	}

	attr, errno := n.fs.resolver.Getattr(ctx, childPath)
	if errno != 0 {
		attr = types.FileAttr(0, time.Now())
	}
	n.fs.fillEntry(out, attr)
	return n.createChildNode(ctx, childPath, attr), 0
}

// Create is mknod followed by open. Reads go through the node, so no handle
// is returned.
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	node, errno = n.Mknod(ctx, name, mode|syscall.S_IFREG, 0, out)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	return node, nil, fuse.FOPEN_DIRECT_IO, 0
}

// Statfs reports a filesystem with no free space
func (n *DirectoryNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Bsize = types.BlockSize
	out.Frsize = types.BlockSize
	out.NameLen = 255
	return 0
}

// FileNode is an attribute file
type FileNode struct {
	fs.Inode
	fs   *FileSystem
	path string
}

var (
	_ fs.NodeGetattrer = (*FileNode)(nil)
	_ fs.NodeOpener    = (*FileNode)(nil)
	_ fs.NodeReader    = (*FileNode)(nil)
)

// Getattr gets file attributes. The size is recomputed on every call since
// the object may change on the server.
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f.fs.count(func(s *Stats) { s.Getattrs++ })

	attr, errno := f.fs.resolver.Getattr(ctx, f.path)
	if errno != 0 {
		return f.fs.fail(errno)
	}
	f.fs.fillAttr(&out.Attr, attr)
	out.SetTimeout(f.fs.config.AttrTimeout)
	return 0
}

// Open opens a file for reading
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	f.fs.count(func(s *Stats) { s.Opens++ })

	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		if f.fs.config.ReadOnly {
			return nil, 0, syscall.EROFS
		}
		return nil, 0, syscall.EACCES
	}

	// Contents are rendered per read; the page cache would serve stale sizes.
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

// Read reads a window of the rendered attribute file
func (f *FileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	defer func() {
		f.fs.recordReadTime(time.Since(start))
	}()

	data, errno := f.fs.resolver.Read(ctx, f.path, len(dest), off)
	if errno != 0 {
		return nil, f.fs.fail(errno)
	}

	f.fs.count(func(s *Stats) { s.BytesRead += int64(len(data)) })
	return fuse.ReadResultData(data), 0
}

// Helper methods

func (n *DirectoryNode) joinPath(name string) string {
	return path.Join(n.path, name)
}

func (n *DirectoryNode) createChildNode(ctx context.Context, childPath string, attr *types.Attr) *fs.Inode {
	if attr.IsDir() {
		return n.NewInode(ctx, &DirectoryNode{fs: n.fs, path: childPath}, fs.StableAttr{Mode: fuse.S_IFDIR})
	}
	return n.NewInode(ctx, &FileNode{fs: n.fs, path: childPath}, fs.StableAttr{Mode: fuse.S_IFREG})
}

func (fs *FileSystem) fillAttr(out *fuse.Attr, attr *types.Attr) {
	out.Mode = attr.Mode
	out.Size = attr.Size
	out.Blocks = attr.Blocks
	out.Nlink = attr.Nlink
	out.Blksize = types.BlockSize
	out.Uid = fs.config.UID
	out.Gid = fs.config.GID

	mtime := attr.Mtime
	out.SetTimes(&mtime, &mtime, &mtime)
}

func (fs *FileSystem) fillEntry(out *fuse.EntryOut, attr *types.Attr) {
	fs.fillAttr(&out.Attr, attr)
	out.SetEntryTimeout(fs.config.EntryTimeout)
	out.SetAttrTimeout(fs.config.AttrTimeout)
}

func (fs *FileSystem) count(update func(*Stats)) {
	fs.stats.mu.Lock()
	update(fs.stats)
	fs.stats.mu.Unlock()
}

// fail counts errno. Missing paths are the normal answer to a lookup and are
// not counted as errors.
func (fs *FileSystem) fail(errno syscall.Errno) syscall.Errno {
	if errno != syscall.ENOENT {
		fs.count(func(s *Stats) { s.Errors++ })
	}
	return errno
}

func (fs *FileSystem) recordLookupTime(duration time.Duration) {
	fs.stats.mu.Lock()
	defer fs.stats.mu.Unlock()

	fs.stats.Lookups++
	fs.stats.AvgLookupTime = runningAverage(fs.stats.AvgLookupTime, duration, fs.stats.Lookups)
}

func (fs *FileSystem) recordReadTime(duration time.Duration) {
	fs.stats.mu.Lock()
	defer fs.stats.mu.Unlock()

	fs.stats.Reads++
	fs.stats.AvgReadTime = runningAverage(fs.stats.AvgReadTime, duration, fs.stats.Reads)
}

func runningAverage(avg, sample time.Duration, n int64) time.Duration {
	if n <= 1 {
		return sample
	}
	return avg + (sample-avg)/time.Duration(n)
}
