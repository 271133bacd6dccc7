package fuse

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

func TestDefaultMountConfig(t *testing.T) {
	config := DefaultMountConfig("/mnt/ldap")

	assert.Equal(t, "/mnt/ldap", config.MountPoint)
	assert.Equal(t, "ldapfs", config.Options.FSName)
	assert.Equal(t, time.Second, config.Options.AttrTimeout)
	assert.EqualValues(t, os.Getuid(), config.Permissions.UID)
}

func TestMountConfig_FileSystemConfig(t *testing.T) {
	config := &MountConfig{
		Options: &MountOptions{
			ReadOnly:     true,
			AttrTimeout:  3 * time.Second,
			EntryTimeout: 4 * time.Second,
		},
		Permissions: &Permissions{UID: 10, GID: 20},
	}

	fsConfig := config.FileSystemConfig()
	assert.True(t, fsConfig.ReadOnly)
	assert.Equal(t, 3*time.Second, fsConfig.AttrTimeout)
	assert.Equal(t, 4*time.Second, fsConfig.EntryTimeout)
	assert.EqualValues(t, 10, fsConfig.UID)
	assert.EqualValues(t, 20, fsConfig.GID)

	bare := (&MountConfig{}).FileSystemConfig()
	assert.False(t, bare.ReadOnly)
	assert.Equal(t, time.Second, bare.AttrTimeout)
}

func TestBuildFUSEOptions(t *testing.T) {
	config := DefaultMountConfig("/mnt/ldap")
	config.Options.ReadOnly = true
	config.Options.AllowOther = true
	config.Permissions = &Permissions{UID: 42, GID: 43}

	manager := NewMountManager(nil, config, nil)
	opts := manager.buildFUSEOptions()

	assert.Equal(t, "ldapfs", opts.FsName)
	assert.True(t, opts.AllowOther)
	assert.Contains(t, opts.Options, "ro")
	assert.Contains(t, opts.Options, "subtype=ldap")
	require.NotNil(t, opts.AttrTimeout)
	assert.Equal(t, time.Second, *opts.AttrTimeout)
	assert.EqualValues(t, 42, opts.UID)
	assert.EqualValues(t, 43, opts.GID)

	// The options hold copies of the timeouts.
	config.Options.AttrTimeout = time.Minute
	assert.Equal(t, time.Second, *opts.AttrTimeout)
}

func TestMount_InvalidMountPoint(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	for _, mountPoint := range []string{"", filepath.Join(dir, "missing"), file} {
		manager := NewMountManager(nil, DefaultMountConfig(mountPoint), nil)

		err := manager.Mount(context.Background())
		require.Error(t, err, "mount point %q", mountPoint)
		assert.True(t, errors.HasCode(err, errors.ErrCodeMountFailed), "mount point %q: %v", mountPoint, err)
		assert.False(t, manager.IsMounted())
		assert.Nil(t, manager.Done())
	}
}

func TestUnmount_NotMounted(t *testing.T) {
	manager := NewMountManager(nil, nil, nil)

	err := manager.Unmount()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnmountFailed))
	assert.Equal(t, &FilesystemStats{}, manager.GetStats())
}

func TestMountsContain(t *testing.T) {
	mounts := `sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0
proc /proc proc rw,nosuid,nodev,noexec,relatime 0 0
ldapfs /mnt/ldap fuse.ldap rw,nosuid,nodev,relatime,user_id=0,group_id=0 0 0
ldapfs /mnt/with\040space fuse.ldap rw 0 0
`
	tests := []struct {
		mountPoint string
		want       bool
	}{
		{"/mnt/ldap", true},
		{"/mnt/ldap/", true},
		{"/mnt", false},
		{"/mnt/lda", false},
		{"/mnt/with space", true},
		{"fuse.ldap", false},
	}
	for _, tt := range tests {
		scanner := bufio.NewScanner(strings.NewReader(mounts))
		assert.Equal(t, tt.want, mountsContain(scanner, tt.mountPoint), tt.mountPoint)
	}
}

func TestMountWatcher_CheckMount(t *testing.T) {
	logs := &bytes.Buffer{}
	logger, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  utils.INFO,
		Output: logs,
		Format: utils.FormatText,
	})
	require.NoError(t, err)

	manager := NewMountManager(nil, DefaultMountConfig("/mnt/ldap"), logger)
	watcher := NewMountWatcher(manager, time.Hour)

	watcher.probe = func(string) bool { return false }
	assert.True(t, watcher.checkMount())
	assert.Empty(t, logs.String())

	watcher.probe = func(mountPoint string) bool { return mountPoint == "/mnt/ldap" }
	assert.False(t, watcher.checkMount())
	assert.Contains(t, logs.String(), "[WARN]")
	assert.Contains(t, logs.String(), "should be unmounted but appears mounted")
}

func TestMountWatcher_StartStop(t *testing.T) {
	manager := NewMountManager(nil, DefaultMountConfig("/mnt/ldap"), nil)
	watcher := NewMountWatcher(manager, time.Millisecond)

	probed := make(chan struct{}, 1)
	watcher.probe = func(string) bool {
		select {
		case probed <- struct{}{}:
		default:
		}
		return false
	}

	watcher.Start()
	select {
	case <-probed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never probed the mount table")
	}
	watcher.Stop()
	watcher.Stop()
}
