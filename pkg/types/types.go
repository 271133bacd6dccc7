package types

import (
	"syscall"
	"time"
)

const (
	// DirSize is the size reported for every directory.
	DirSize = 4096
	// BlockSize is the unit of Attr.Blocks.
	BlockSize = 512

	DirMode  = syscall.S_IFDIR | 0755
	FileMode = syscall.S_IFREG | 0644
)

// Lookup outcomes reported to MetricsCollector.RecordLookup.
const (
	LookupFound          = "found"
	LookupNotFound       = "not_found"
	LookupInvalidName    = "invalid_name"
	LookupNoSuchHost     = "no_such_host"
	LookupTransportError = "transport_error"
)

// Attr is the metadata returned for a path.
type Attr struct {
	Mode   uint32
	Size   uint64
	Blocks uint64
	Nlink  uint32
	Mtime  time.Time
}

// DirEntry is one name in a directory listing, typed so that callers do not
// have to look each name up.
type DirEntry struct {
	Name string
	Mode uint32 // syscall.S_IFDIR or syscall.S_IFREG
}

// IsDir reports whether the entry is a directory.
func (d DirEntry) IsDir() bool {
	return d.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

// Names returns the names of entries, in order.
func Names(entries []DirEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// IsDir reports whether the attr describes a directory.
func (a *Attr) IsDir() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

// DirAttr returns the metadata of a directory.
func DirAttr(mtime time.Time) *Attr {
	return &Attr{
		Mode:   DirMode,
		Size:   DirSize,
		Blocks: DirSize / BlockSize,
		Nlink:  2,
		Mtime:  mtime,
	}
}

// FileAttr returns the metadata of an attribute file of the given size.
func FileAttr(size int64, mtime time.Time) *Attr {
	if size < 0 {
		size = 0
	}
	return &Attr{
		Mode:   FileMode,
		Size:   uint64(size),
		Blocks: (uint64(size) + BlockSize - 1) / BlockSize,
		Nlink:  1,
		Mtime:  mtime,
	}
}
