package resolver

import (
	"context"
	"syscall"
	"time"

	"github.com/ldapfs/ldapfs/internal/entry"
	"github.com/ldapfs/ldapfs/internal/naming"
	"github.com/ldapfs/ldapfs/internal/overlay"
	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/types"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// Operation names used for logging and metrics.
const (
	OpGetattr = "getattr"
	OpReaddir = "readdir"
	OpRead    = "read"
	OpMkdir   = "mkdir"
	OpMknod   = "mknod"
)

// Config carries the collaborators of a Resolver. Only Hosts and Directory
// are required.
type Config struct {
	Hosts     naming.HostTable
	Directory types.Directory
	Overlay   *overlay.Overlay
	Logger    *utils.StructuredLogger
	Metrics   types.MetricsCollector
}

// Resolver answers filesystem callbacks from paths. It is safe for
// concurrent use; the overlay is the only state shared between calls.
type Resolver struct {
	hosts   naming.HostTable
	dir     types.Directory
	overlay *overlay.Overlay
	logger  *utils.StructuredLogger
	metrics types.MetricsCollector
	mtime   time.Time
}

// New creates a Resolver. A nil Overlay, Logger or Metrics is replaced by a
// fresh overlay, a discarding logger and NopMetrics.
func New(config Config) *Resolver {
	r := &Resolver{
		hosts:   config.Hosts,
		dir:     config.Directory,
		overlay: config.Overlay,
		logger:  config.Logger,
		metrics: config.Metrics,
		mtime:   time.Now(),
	}
	if r.hosts == nil {
		r.hosts = naming.HostTable{}
	}
	if r.overlay == nil {
		r.overlay = overlay.New()
	}
	if r.logger == nil {
		r.logger = utils.NewNopLogger()
	}
	r.logger = r.logger.WithComponent("resolver")
	if r.metrics == nil {
		r.metrics = types.NopMetrics{}
	}
	return r
}

// Hosts returns the host table the resolver classifies paths against.
func (r *Resolver) Hosts() naming.HostTable {
	return r.hosts
}

// Getattr returns the metadata of raw: a directory for the root, hosts, base
// scopes, overlay directories and LDAP objects, or an attribute file of the
// parent object.
func (r *Resolver) Getattr(ctx context.Context, raw string) (attr *types.Attr, errno syscall.Errno) {
	start := time.Now()
	defer func() { r.finish(OpGetattr, start, errno) }()

	p := naming.Classify(raw, r.hosts)
	if done, errno := r.resolveFixed(p); done {
		if errno != 0 {
			return nil, errno
		}
		return types.DirAttr(r.mtime), 0
	}

	if r.isOverlayDir(p) {
		return types.DirAttr(r.mtime), 0
	}

	// A DN that does not parse may still name an attribute of the parent.
	name, err := naming.BuildName(p.DNParts)
	if err != nil {
		r.nameFailed(p, OpGetattr, err)
	} else {
		found, err := r.exists(ctx, p, OpGetattr, name)
		if err != nil && errors.IsTransport(err) {
			return nil, syscall.ENOENT
		}
		if found {
			return types.DirAttr(r.mtime), 0
		}
	}

	if p.Len() == 2 {
		r.logger.Debug("Path exhausted", map[string]interface{}{"path": p.Raw})
		return nil, syscall.ENOENT
	}

	e, errno := r.fileEntry(ctx, p, OpGetattr)
	if errno != 0 {
		return nil, errno
	}
	size, err := e.RenderedSize(p.FilePart())
	if err != nil {
		return nil, syscall.ENOENT
	}
	return types.FileAttr(size, r.mtime), 0
}

// Readdir lists raw. Object directories list the all-attributes file, the
// attribute names, the one-level children and the overlay children. Each
// name carries its type: children and overlay entries are directories,
// attributes are files.
func (r *Resolver) Readdir(ctx context.Context, raw string) (entries []types.DirEntry, errno syscall.Errno) {
	start := time.Now()
	defer func() { r.finish(OpReaddir, start, errno) }()

	p := naming.Classify(raw, r.hosts)
	switch {
	case p.IsEmpty():
		return nil, syscall.ENOENT
	case p.IsRoot():
		return newListing(syscall.S_IFDIR, r.hosts.Hosts()...).entries, 0
	case !p.HasHost():
		r.logger.Debug("Path does not match a configured host", map[string]interface{}{"path": p.Raw})
		return nil, syscall.ENOENT
	case p.Len() == 1:
		return newListing(syscall.S_IFDIR, r.hosts.BaseScopes(p.Host)...).entries, 0
	case !p.HasBaseScope():
		r.logger.Debug("Path does not match a base scope", map[string]interface{}{"path": p.Raw, "host": p.Host})
		return nil, syscall.ENOENT
	}

	virtual := r.isOverlayDir(p)
	l := newListing(syscall.S_IFREG, entry.AllAttributes)

	name, err := naming.BuildName(p.DNParts)
	if err != nil {
		r.nameFailed(p, OpReaddir, err)
		if !virtual {
			return nil, syscall.ENOENT
		}
	} else if errno := r.listObject(ctx, p, name, l); errno != 0 && !virtual {
		return nil, errno
	}

	l.add(syscall.S_IFDIR, r.overlay.ChildrenOf(p.String())...)
	return l.entries, 0
}

func (r *Resolver) listObject(ctx context.Context, p naming.Path, name naming.Name, l *listing) syscall.Errno {
	e, err := r.get(ctx, p, OpReaddir, name, true)
	if err != nil {
		return syscall.ENOENT
	}
	l.add(syscall.S_IFREG, e.Names()...)

	children, err := r.search(ctx, p, OpReaddir, name)
	if err != nil {
		return syscall.ENOENT
	}
	for _, child := range children {
		l.add(syscall.S_IFDIR, naming.NameToFilename(child.DN(), name.String()))
	}
	return 0
}

// Read returns the window [offset, offset+length) of the rendered attribute
// file raw, clamped to its contents.
func (r *Resolver) Read(ctx context.Context, raw string, length int, offset int64) (data []byte, errno syscall.Errno) {
	start := time.Now()
	defer func() { r.finish(OpRead, start, errno) }()

	p := naming.Classify(raw, r.hosts)
	if p.Len() < 3 {
		return nil, syscall.ENOENT
	}
	if !p.HasHost() || !p.HasBaseScope() {
		r.logger.Debug("Path does not match a configured host and base scope", map[string]interface{}{"path": p.Raw})
		return nil, syscall.ENOENT
	}
	if offset < 0 || length < 0 {
		return nil, syscall.EINVAL
	}

	e, errno := r.fileEntry(ctx, p, OpRead)
	if errno != 0 {
		return nil, errno
	}
	text, err := e.Render(p.FilePart())
	if err != nil {
		return nil, syscall.ENOENT
	}
	return window(text, offset, length), 0
}

func window(text string, offset int64, length int) []byte {
	size := int64(len(text))
	if offset >= size {
		return []byte{}
	}
	end := offset + int64(length)
	if end > size || end < offset {
		end = size
	}
	return []byte(text[offset:end])
}

// Mkdir registers raw as an overlay directory. Nothing is written to LDAP.
func (r *Resolver) Mkdir(ctx context.Context, raw string) (errno syscall.Errno) {
	start := time.Now()
	defer func() { r.finish(OpMkdir, start, errno) }()

	p := naming.Classify(raw, r.hosts)
	if p.Len() < 3 {
		return syscall.EPERM
	}
	if !p.HasHost() || !p.HasBaseScope() {
		return syscall.ENOENT
	}
	// The new name itself need not be a DN: an overlay directory is found
	// by path before any name is built.
	if errno := r.checkParent(ctx, p, OpMkdir, syscall.EINVAL); errno != 0 {
		return errno
	}

	r.overlay.RegisterChild(p.DirPart(), p.FilePart())
	r.metrics.SetOverlayDirectories(r.overlay.Len())
	r.logger.Debug("Registered overlay directory", map[string]interface{}{
		"parent": p.DirPart(),
		"child":  p.FilePart(),
	})
	return 0
}

// Mknod accepts creation of the all-attributes file only. The file always
// exists already, so nothing is recorded.
func (r *Resolver) Mknod(ctx context.Context, raw string) (errno syscall.Errno) {
	start := time.Now()
	defer func() { r.finish(OpMknod, start, errno) }()

	p := naming.Classify(raw, r.hosts)
	if p.Len() < 3 {
		return syscall.EPERM
	}
	if p.FilePart() != entry.AllAttributes {
		return syscall.EPERM
	}
	if !p.HasHost() || !p.HasBaseScope() {
		return syscall.ENOENT
	}
	return r.checkParent(ctx, p, OpMknod, syscall.ENOENT)
}

// resolveFixed handles the paths that never touch LDAP. done reports whether
// p was one of them; a zero errno then means p is a directory.
func (r *Resolver) resolveFixed(p naming.Path) (done bool, errno syscall.Errno) {
	switch {
	case p.IsEmpty():
		r.logger.Debug("Empty path")
		return true, syscall.ENOENT
	case p.IsRoot():
		return true, 0
	case !p.HasHost():
		r.logger.Debug("Path does not match a configured host", map[string]interface{}{"path": p.Raw})
		return true, syscall.ENOENT
	case p.Len() == 1:
		return true, 0
	case !p.HasBaseScope():
		r.logger.Debug("Path does not match a base scope", map[string]interface{}{"path": p.Raw, "host": p.Host})
		return true, syscall.ENOENT
	}
	return false, 0
}

// checkParent verifies that the parent of p is an overlay directory or an
// existing LDAP object. invalid is returned when the parent DN does not parse.
func (r *Resolver) checkParent(ctx context.Context, p naming.Path, op string, invalid syscall.Errno) syscall.Errno {
	parent := r.parentPath(p)
	if r.isOverlayDir(parent) || r.overlay.HasChildren(parent.String()) {
		return 0
	}

	name, err := naming.ParentName(p.DNParts)
	if err != nil {
		r.nameFailed(p, op, err)
		return invalid
	}

	found, err := r.exists(ctx, p, op, name)
	switch {
	case err == nil && found:
		return 0
	case err != nil && errors.IsTransport(err):
		return syscall.EIO
	case err != nil && errors.IsInvalidName(err):
		return invalid
	default:
		return syscall.ENOENT
	}
}

// fileEntry fetches the object whose attribute p names. The all-attributes
// file of an overlay directory with no LDAP object is empty.
func (r *Resolver) fileEntry(ctx context.Context, p naming.Path, op string) (*entry.Entry, syscall.Errno) {
	key := p.FilePart()

	name, err := naming.ParentName(p.DNParts)
	if err != nil {
		r.nameFailed(p, op, err)
		if key == entry.AllAttributes && r.isOverlayDir(r.parentPath(p)) {
			return entry.New(p.DirPart()), 0
		}
		return nil, syscall.ENOENT
	}

	e, err := r.get(ctx, p, op, name, false)
	if err != nil {
		if key == entry.AllAttributes && r.isOverlayDir(r.parentPath(p)) {
			return entry.New(name.String()), 0
		}
		return nil, syscall.ENOENT
	}

	if !e.Has(key) {
		r.logger.Debug("No such attribute", map[string]interface{}{
			"path":      p.Raw,
			"dn":        name.String(),
			"attribute": key,
		})
		return nil, syscall.ENOENT
	}
	return e, 0
}

func (r *Resolver) parentPath(p naming.Path) naming.Path {
	return naming.Classify(p.DirPart(), r.hosts)
}

func (r *Resolver) isOverlayDir(p naming.Path) bool {
	if p.Len() == 0 {
		return false
	}
	return r.overlay.Contains(p.DirPart(), p.FilePart())
}

// listing collects directory entries; the first occurrence of a name wins.
type listing struct {
	entries []types.DirEntry
	seen    map[string]struct{}
}

func newListing(mode uint32, names ...string) *listing {
	l := &listing{entries: []types.DirEntry{}, seen: make(map[string]struct{})}
	l.add(mode, names...)
	return l
}

func (l *listing) add(mode uint32, names ...string) {
	for _, n := range names {
		if _, ok := l.seen[n]; ok {
			continue
		}
		l.seen[n] = struct{}{}
		l.entries = append(l.entries, types.DirEntry{Name: n, Mode: mode})
	}
}
