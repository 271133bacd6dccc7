package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogRotator_Validation(t *testing.T) {
	_, err := NewLogRotator(nil)
	assert.Error(t, err)

	_, err = NewLogRotator(&RotationConfig{})
	assert.Error(t, err)
}

func TestLogRotator_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "logs", "ldapfs.log")

	lr, err := NewLogRotator(&RotationConfig{Filename: name, MaxSize: 10, MaxBackups: 2})
	require.NoError(t, err)
	defer func() { _ = lr.Close() }()

	for _, line := range []string{"first-1\n", "second-2\n", "third-33\n"} {
		_, err := lr.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, lr.Sync())

	current, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "third-33\n", string(current))

	newest, err := os.ReadFile(name + ".1")
	require.NoError(t, err)
	assert.Equal(t, "second-2\n", string(newest))

	oldest, err := os.ReadFile(name + ".2")
	require.NoError(t, err)
	assert.Equal(t, "first-1\n", string(oldest))

	_, err = lr.Write([]byte("fourth-4\n"))
	require.NoError(t, err)
	_, err = os.Stat(name + ".3")
	assert.True(t, os.IsNotExist(err), "only MaxBackups backups are kept")
}

func TestLogRotator_NoBackupsTruncates(t *testing.T) {
	name := filepath.Join(t.TempDir(), "ldapfs.log")

	lr, err := NewLogRotator(&RotationConfig{Filename: name, MaxSize: 4})
	require.NoError(t, err)
	defer func() { _ = lr.Close() }()

	_, err = lr.Write([]byte("aaaa"))
	require.NoError(t, err)
	_, err = lr.Write([]byte("bb"))
	require.NoError(t, err)

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "bb", string(data))

	_, err = os.Stat(name + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestLogRotator_Compress(t *testing.T) {
	name := filepath.Join(t.TempDir(), "ldapfs.log")

	lr, err := NewLogRotator(&RotationConfig{Filename: name, MaxBackups: 1, Compress: true})
	require.NoError(t, err)

	_, err = lr.Write([]byte("entry\n"))
	require.NoError(t, err)
	require.NoError(t, lr.Rotate())
	require.NoError(t, lr.Close())

	_, err = os.Stat(name + ".1.gz")
	assert.NoError(t, err)
	_, err = os.Stat(name + ".1")
	assert.True(t, os.IsNotExist(err))

	_, err = lr.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestStructuredLogger_WithRotation(t *testing.T) {
	name := filepath.Join(t.TempDir(), "ldapfs.log")

	logger, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:    INFO,
		Format:   FormatText,
		Rotation: &RotationConfig{Filename: name, MaxSize: 1 << 20},
	})
	require.NoError(t, err)

	logger.Info("mounted", map[string]interface{}{"mount_point": "/mnt/ldap"})
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "mount_point=/mnt/ldap"))
}
