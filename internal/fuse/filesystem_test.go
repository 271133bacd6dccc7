package fuse

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapfs/ldapfs/internal/directory"
	"github.com/ldapfs/ldapfs/internal/entry"
	"github.com/ldapfs/ldapfs/internal/naming"
	"github.com/ldapfs/ldapfs/internal/resolver"
	"github.com/ldapfs/ldapfs/pkg/types"
)

const (
	testUID = 1000
	testGID = 1001
)

func newTestFileSystem(t *testing.T, readOnly bool) (*FileSystem, *DirectoryNode) {
	t.Helper()

	dir := directory.NewMemory("ldap1")
	dir.Add("ldap1", "dc=example", entry.Attribute{Name: "cn", Values: []string{"alice"}})
	dir.Add("ldap1", "ou=people,dc=example", entry.Attribute{Name: "ou", Values: []string{"people"}})

	r := resolver.New(resolver.Config{
		Hosts:     naming.HostTable{"ldap1": {"dc=example"}},
		Directory: dir,
	})
	filesystem := NewFileSystem(r, &Config{
		UID:          testUID,
		GID:          testGID,
		ReadOnly:     readOnly,
		AttrTimeout:  time.Second,
		EntryTimeout: 2 * time.Second,
	}, nil)

	root, ok := filesystem.Root().(*DirectoryNode)
	require.True(t, ok)
	// Attaches the root inode to a bridge so children can be created
	// without mounting.
	fs.NewNodeFS(root, &fs.Options{})
	return filesystem, root
}

func lookup(t *testing.T, parent *DirectoryNode, names ...string) fs.InodeEmbedder {
	t.Helper()

	var node fs.InodeEmbedder = parent
	for _, name := range names {
		dirNode, ok := node.(*DirectoryNode)
		require.True(t, ok, "%q has no children", name)

		var out fuse.EntryOut
		inode, errno := dirNode.Lookup(context.Background(), name, &out)
		require.Zero(t, errno, "lookup %q", name)
		node = inode.Operations()
	}
	return node
}

func readDir(t *testing.T, node *DirectoryNode) map[string]uint32 {
	t.Helper()

	stream, errno := node.Readdir(context.Background())
	require.Zero(t, errno)
	defer stream.Close()

	modes := make(map[string]uint32)
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Zero(t, errno)
		modes[e.Name] = e.Mode
	}
	return modes
}

func TestDirectoryNode_Getattr(t *testing.T) {
	_, root := newTestFileSystem(t, false)

	var out fuse.AttrOut
	require.Zero(t, root.Getattr(context.Background(), nil, &out))
	assert.EqualValues(t, types.DirMode, out.Mode)
	assert.EqualValues(t, types.DirSize, out.Size)
	assert.EqualValues(t, 2, out.Nlink)
	assert.EqualValues(t, testUID, out.Uid)
	assert.EqualValues(t, testGID, out.Gid)
	assert.NotZero(t, out.Mtime)
	assert.Equal(t, time.Second, out.Timeout())
}

func TestDirectoryNode_Lookup(t *testing.T) {
	_, root := newTestFileSystem(t, false)
	ctx := context.Background()

	assert.IsType(t, &DirectoryNode{}, lookup(t, root, "ldap1"))
	assert.IsType(t, &DirectoryNode{}, lookup(t, root, "ldap1", "dc=example"))
	assert.IsType(t, &DirectoryNode{}, lookup(t, root, "ldap1", "dc=example", "ou=people"))
	assert.IsType(t, &FileNode{}, lookup(t, root, "ldap1", "dc=example", "cn"))
	assert.IsType(t, &FileNode{}, lookup(t, root, "ldap1", "dc=example", entry.AllAttributes))

	base := lookup(t, root, "ldap1", "dc=example").(*DirectoryNode)
	var out fuse.EntryOut
	_, errno := base.Lookup(ctx, "cn", &out)
	require.Zero(t, errno)
	assert.EqualValues(t, types.FileMode, out.Attr.Mode)
	assert.EqualValues(t, len("alice\n"), out.Attr.Size)
	assert.EqualValues(t, testUID, out.Attr.Uid)
	assert.Equal(t, 2*time.Second, out.EntryTimeout())
	assert.Equal(t, time.Second, out.AttrTimeout())

	for _, name := range []string{"sn", "ou=nobody"} {
		_, errno := base.Lookup(ctx, name, &fuse.EntryOut{})
		assert.Equal(t, syscall.ENOENT, errno, name)
	}
	_, errno = root.Lookup(ctx, "ldap9", &fuse.EntryOut{})
	assert.Equal(t, syscall.ENOENT, errno)
}

func TestDirectoryNode_Readdir(t *testing.T) {
	_, root := newTestFileSystem(t, false)

	assert.Equal(t, map[string]uint32{"ldap1": fuse.S_IFDIR}, readDir(t, root))

	host := lookup(t, root, "ldap1").(*DirectoryNode)
	assert.Equal(t, map[string]uint32{"dc=example": fuse.S_IFDIR}, readDir(t, host))

	base := lookup(t, root, "ldap1", "dc=example").(*DirectoryNode)
	assert.Equal(t, map[string]uint32{
		entry.AllAttributes: fuse.S_IFREG,
		"cn":                fuse.S_IFREG,
		"ou=people":         fuse.S_IFDIR,
	}, readDir(t, base))
}

func TestFileNode_OpenAndRead(t *testing.T) {
	filesystem, root := newTestFileSystem(t, false)
	ctx := context.Background()

	file := lookup(t, root, "ldap1", "dc=example", "cn").(*FileNode)

	fh, flags, errno := file.Open(ctx, syscall.O_RDONLY)
	require.Zero(t, errno)
	assert.Nil(t, fh)
	assert.EqualValues(t, fuse.FOPEN_DIRECT_IO, flags)

	for _, flag := range []uint32{syscall.O_WRONLY, syscall.O_RDWR, syscall.O_RDONLY | syscall.O_TRUNC} {
		_, _, errno := file.Open(ctx, flag)
		assert.Equal(t, syscall.EACCES, errno, "flags %#x", flag)
	}

	buf := make([]byte, 64)
	result, errno := file.Read(ctx, nil, buf, 0)
	require.Zero(t, errno)
	data, status := result.Bytes(buf)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "alice\n", string(data))

	result, errno = file.Read(ctx, nil, buf[:3], 2)
	require.Zero(t, errno)
	data, _ = result.Bytes(buf)
	assert.Equal(t, "ice", string(data))

	stats := filesystem.GetStats()
	assert.EqualValues(t, 2, stats.Reads)
	assert.EqualValues(t, 9, stats.BytesRead)
	assert.EqualValues(t, 4, stats.Opens)

	var out fuse.AttrOut
	require.Zero(t, file.Getattr(ctx, nil, &out))
	assert.EqualValues(t, 6, out.Size)
	assert.EqualValues(t, 1, out.Blocks)
}

func TestDirectoryNode_Mkdir(t *testing.T) {
	filesystem, root := newTestFileSystem(t, false)
	ctx := context.Background()

	base := lookup(t, root, "ldap1", "dc=example").(*DirectoryNode)

	var out fuse.EntryOut
	inode, errno := base.Mkdir(ctx, "ou=groups", 0755, &out)
	require.Zero(t, errno)
	assert.IsType(t, &DirectoryNode{}, inode.Operations())
	assert.EqualValues(t, types.DirMode, out.Attr.Mode)

	assert.Contains(t, readDir(t, base), "ou=groups")
	groups := lookup(t, root, "ldap1", "dc=example", "ou=groups").(*DirectoryNode)
	assert.Equal(t, map[string]uint32{entry.AllAttributes: fuse.S_IFREG}, readDir(t, groups))

	inode, errno = base.Mkdir(ctx, "newdir", 0755, &fuse.EntryOut{})
	require.Zero(t, errno)
	assert.IsType(t, &DirectoryNode{}, inode.Operations())

	modes := readDir(t, base)
	assert.EqualValues(t, fuse.S_IFDIR, modes["newdir"], "plain overlay names are listed as directories")
	assert.EqualValues(t, fuse.S_IFDIR, modes["ou=groups"])
	assert.EqualValues(t, fuse.S_IFREG, modes["cn"])

	host := lookup(t, root, "ldap1").(*DirectoryNode)
	_, errno = host.Mkdir(ctx, "dc=new", 0755, &fuse.EntryOut{})
	assert.Equal(t, syscall.EPERM, errno)

	stats := filesystem.GetStats()
	assert.EqualValues(t, 3, stats.Mkdirs)
	assert.EqualValues(t, 1, stats.Errors)
}

func TestDirectoryNode_MknodAndCreate(t *testing.T) {
	_, root := newTestFileSystem(t, false)
	ctx := context.Background()

	base := lookup(t, root, "ldap1", "dc=example").(*DirectoryNode)

	var out fuse.EntryOut
	inode, errno := base.Mknod(ctx, entry.AllAttributes, syscall.S_IFREG|0644, 0, &out)
	require.Zero(t, errno)
	assert.IsType(t, &FileNode{}, inode.Operations())
	assert.EqualValues(t, len("cn=alice\n"), out.Attr.Size)

	_, errno = base.Mknod(ctx, "mail", syscall.S_IFREG|0644, 0, &fuse.EntryOut{})
	assert.Equal(t, syscall.EPERM, errno)

	inode, fh, flags, errno := base.Create(ctx, entry.AllAttributes, syscall.O_WRONLY|syscall.O_CREAT, 0644, &fuse.EntryOut{})
	require.Zero(t, errno)
	assert.NotNil(t, inode)
	assert.Nil(t, fh)
	assert.EqualValues(t, fuse.FOPEN_DIRECT_IO, flags)

	_, _, _, errno = base.Create(ctx, "mail", syscall.O_WRONLY|syscall.O_CREAT, 0644, &fuse.EntryOut{})
	assert.Equal(t, syscall.EPERM, errno)

	_, errno = base.Mkdir(ctx, "ou=empty", 0755, &fuse.EntryOut{})
	require.Zero(t, errno)
	empty := lookup(t, root, "ldap1", "dc=example", "ou=empty").(*DirectoryNode)
	out = fuse.EntryOut{}
	_, errno = empty.Mknod(ctx, entry.AllAttributes, syscall.S_IFREG|0644, 0, &out)
	require.Zero(t, errno)
	assert.Zero(t, out.Attr.Size)
}

func TestReadOnly(t *testing.T) {
	_, root := newTestFileSystem(t, true)
	ctx := context.Background()

	base := lookup(t, root, "ldap1", "dc=example").(*DirectoryNode)

	_, errno := base.Mkdir(ctx, "ou=groups", 0755, &fuse.EntryOut{})
	assert.Equal(t, syscall.EROFS, errno)

	_, errno = base.Mknod(ctx, entry.AllAttributes, syscall.S_IFREG|0644, 0, &fuse.EntryOut{})
	assert.Equal(t, syscall.EROFS, errno)

	file := lookup(t, root, "ldap1", "dc=example", "cn").(*FileNode)
	_, _, errno = file.Open(ctx, syscall.O_WRONLY)
	assert.Equal(t, syscall.EROFS, errno)

	_, _, errno = file.Open(ctx, syscall.O_RDONLY)
	assert.Zero(t, errno)
}

func TestStatfs(t *testing.T) {
	_, root := newTestFileSystem(t, false)

	var out fuse.StatfsOut
	require.Zero(t, root.Statfs(context.Background(), &out))
	assert.EqualValues(t, types.BlockSize, out.Bsize)
	assert.EqualValues(t, 255, out.NameLen)
	assert.Zero(t, out.Bfree)
}

func TestRunningAverage(t *testing.T) {
	assert.Equal(t, 4*time.Millisecond, runningAverage(0, 4*time.Millisecond, 1))
	assert.Equal(t, 3*time.Millisecond, runningAverage(4*time.Millisecond, 2*time.Millisecond, 2))
}
