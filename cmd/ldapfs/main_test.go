package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapfs/ldapfs/internal/config"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-c", "/tmp/ldapfs.yaml", "--debug", "/mnt/ldap"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ldapfs.yaml", opts.configPath)
	assert.Equal(t, "/mnt/ldap", opts.mountPoint)
	assert.True(t, opts.debug)

	opts, err = parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultConfigPath, opts.configPath)
	assert.Empty(t, opts.mountPoint)

	_, err = parseFlags([]string{"--mountpoint", "/mnt/a", "/mnt/b"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"/mnt/a", "/mnt/b"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestLoadConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Hosts = map[string]config.HostConfig{
		"ldap1": {Address: "ldap.example.com", Port: 389, BaseDNs: []string{"dc=example"}},
	}
	path := filepath.Join(t.TempDir(), "ldapfs.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := loadConfig(&options{configPath: path, debug: true, readOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", loaded.Global.LogLevel)
	assert.True(t, loaded.Mount.Debug)
	assert.True(t, loaded.Mount.ReadOnly)
	assert.Contains(t, loaded.Hosts, "ldap1")

	_, err = loadConfig(&options{configPath: path, logLevel: "LOUD"})
	assert.Error(t, err)

	_, err = loadConfig(&options{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestRunVersion(t *testing.T) {
	assert.NoError(t, run([]string{"--version"}))

	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, run([]string{"--write-default-config", path}))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
