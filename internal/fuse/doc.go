/*
Package fuse exposes the LDAP directory tree as a mounted filesystem.

The package is a thin adapter: every callback is translated into a path and
handed to a resolver.Resolver, which decides what the path means and answers
with metadata, a listing, file contents or an errno.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│              User Applications              │
	│            (ls, cat, grep, mkdir)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               FUSE Driver                   │
	│          (Platform-specific)                │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              ldapfs FUSE Layer              │  ← This Package
	│  ┌─────────────┐       ┌─────────────────┐  │
	│  │ go-fuse     │       │ cgofuse         │  │
	│  │ (Linux)     │       │ (macOS/Windows) │  │
	│  └─────────────┘       └─────────────────┘  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│     Resolver  ──  Overlay  ──  Directory    │
	└─────────────────────────────────────────────┘

# Platform Support

The default build uses github.com/hanwen/go-fuse/v2. DirectoryNode and
FileNode embed fs.Inode and are created on Lookup, Mkdir and Mknod.

Building with -tags cgofuse switches to github.com/winfsp/cgofuse, which
works on path strings rather than inodes and runs on macOS (macFUSE) and
Windows (WinFsp).

CreatePlatformMountManager returns the implementation chosen at build time
behind the PlatformFileSystem interface.

# Operations

	Getattr   every node         resolver.Getattr
	Lookup    directories        resolver.Getattr on the child path
	Readdir   directories        resolver.Readdir
	Mkdir     directories        resolver.Mkdir (overlay only)
	Mknod     directories        resolver.Mknod (=attributes only)
	Create    directories        Mknod without a file handle
	Open      attribute files    read-only, direct I/O
	Read      attribute files    resolver.Read

Writes are never accepted. Opening an attribute file for writing fails with
EACCES, or EROFS when the mount is read-only.

Attribute files are opened with FOPEN_DIRECT_IO because their contents are
rendered from LDAP on every read and their size may change between calls.

# Mount Lifecycle

	manager := fuse.CreatePlatformMountManager(resolver, mountConfig, logger)
	if err := manager.Mount(ctx); err != nil {
		return err
	}
	<-manager.Done()

MountManager refuses to mount on a path that /proc/mounts already lists and
falls back to a lazy unmount when the mount point is busy. MountWatcher
periodically compares the manager state with the kernel mount table and
logs when they diverge.
*/
package fuse
