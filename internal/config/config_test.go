package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

const sampleConfig = `
global:
  log_level: DEBUG
  log_format: json
  component_levels:
    directory: WARN
  log_levels: "resolver:TRACE"
mount:
  mount_point: /mnt/ldap
  read_only: true
  attr_timeout: 5s
network:
  timeouts:
    connect: 3s
  retry:
    max_attempts: 4
  circuit_breaker:
    enabled: false
monitoring:
  metrics:
    enabled: true
    port: 9200
    path: /metrics
hosts:
  ldap1:
    address: ldap1.example.com
    port: 636
    use_tls: true
    bind_dn: cn=admin,dc=example
    bind_password: secret
    base_dns:
      - dc=example
      - ou=people,dc=example
  ldap-2:
    address: ldap2.example.com
    base_dns: [dc=other]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ldapfs.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Network.Timeouts.Connect != 2*time.Second {
		t.Errorf("Expected connect timeout 2s, got %v", cfg.Network.Timeouts.Connect)
	}
	if !cfg.Network.CircuitBreaker.Enabled {
		t.Error("Expected circuit breaker to be enabled by default")
	}
	if cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be disabled by default")
	}
	if cfg.Mount.FSName != "ldapfs" {
		t.Errorf("Expected fsname ldapfs, got %s", cfg.Mount.FSName)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default configuration should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(writeConfig(t, sampleConfig)); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Mount.AttrTimeout != 5*time.Second {
		t.Errorf("Expected attr_timeout 5s, got %v", cfg.Mount.AttrTimeout)
	}
	if cfg.Mount.EntryTimeout != time.Second {
		t.Errorf("Expected entry_timeout to keep its default, got %v", cfg.Mount.EntryTimeout)
	}
	if cfg.Network.Timeouts.Connect != 3*time.Second {
		t.Errorf("Expected connect timeout 3s, got %v", cfg.Network.Timeouts.Connect)
	}
	if cfg.Network.Retry.MaxAttempts != 4 {
		t.Errorf("Expected 4 retry attempts, got %d", cfg.Network.Retry.MaxAttempts)
	}

	host, ok := cfg.Hosts["ldap1"]
	if !ok {
		t.Fatal("Expected host ldap1")
	}
	if host.Port != 636 || !host.UseTLS {
		t.Errorf("Unexpected host settings: %+v", host)
	}
	if len(host.BaseDNs) != 2 || host.BaseDNs[1] != "ou=people,dc=example" {
		t.Errorf("Unexpected base DNs: %v", host.BaseDNs)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Sample configuration should validate: %v", err)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	cfg := NewDefault()

	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.HasCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Expected CONFIG_LOAD for a missing file, got %v", err)
	}

	err = cfg.LoadFromFile(writeConfig(t, "hosts: [not, a, map"))
	if !errors.HasCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Expected CONFIG_LOAD for malformed YAML, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(writeConfig(t, sampleConfig)); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	t.Setenv("LDAPFS_LOG_LEVEL", "WARN")
	t.Setenv("LDAPFS_MOUNT_POINT", "/srv/ldap")
	t.Setenv("LDAPFS_METRICS_PORT", "9300")
	t.Setenv("LDAPFS_BIND_PASSWORD_LDAP_2", "from-env")

	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load env: %v", err)
	}

	if cfg.Global.LogLevel != "WARN" {
		t.Errorf("Expected LogLevel WARN, got %s", cfg.Global.LogLevel)
	}
	if cfg.Mount.MountPoint != "/srv/ldap" {
		t.Errorf("Expected mount point /srv/ldap, got %s", cfg.Mount.MountPoint)
	}
	if cfg.Monitoring.Metrics.Port != 9300 {
		t.Errorf("Expected metrics port 9300, got %d", cfg.Monitoring.Metrics.Port)
	}
	if got := cfg.Hosts["ldap-2"].BindPassword; got != "from-env" {
		t.Errorf("Expected bind password from env, got %q", got)
	}
	if got := cfg.Hosts["ldap1"].BindPassword; got != "secret" {
		t.Errorf("Expected ldap1 password untouched, got %q", got)
	}

	t.Setenv("LDAPFS_METRICS_PORT", "nine")
	if err := cfg.LoadFromEnv(); !errors.HasCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("Expected INVALID_CONFIG for a bad port, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *Configuration) { c.Global.LogLevel = "LOUD" },
			wantErr: "invalid log_level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Configuration) { c.Global.LogFormat = "xml" },
			wantErr: "invalid log_format",
		},
		{
			name:    "invalid component level",
			mutate:  func(c *Configuration) { c.Global.ComponentLevels = map[string]string{"resolver": "CHATTY"} },
			wantErr: "component resolver",
		},
		{
			name:    "invalid compact log levels",
			mutate:  func(c *Configuration) { c.Global.LogLevels = "resolver" },
			wantErr: "invalid log_levels",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Configuration) { c.Network.Timeouts.Request = -time.Second },
			wantErr: "network timeouts",
		},
		{
			name: "metrics port out of range",
			mutate: func(c *Configuration) {
				c.Monitoring.Metrics.Enabled = true
				c.Monitoring.Metrics.Port = 70000
			},
			wantErr: "invalid metrics port",
		},
		{
			name:    "health interval",
			mutate:  func(c *Configuration) { c.Monitoring.Health.Interval = 0 },
			wantErr: "health.interval",
		},
		{
			name:    "health thresholds",
			mutate:  func(c *Configuration) { c.Monitoring.Health.UnavailableThreshold = 1 },
			wantErr: "health thresholds",
		},
		{
			name: "host without base DNs",
			mutate: func(c *Configuration) {
				c.Hosts["ldap1"] = HostConfig{Address: "ldap1"}
			},
			wantErr: "at least one base_dn",
		},
		{
			name: "invalid base DN",
			mutate: func(c *Configuration) {
				c.Hosts["ldap1"] = HostConfig{Address: "ldap1", BaseDNs: []string{"not a dn"}}
			},
			wantErr: `invalid base_dn "not a dn"`,
		},
		{
			name: "base DN with path separator",
			mutate: func(c *Configuration) {
				c.Hosts["ldap1"] = HostConfig{Address: "ldap1", BaseDNs: []string{"ou=a/b,dc=example"}}
			},
			wantErr: "must not contain",
		},
		{
			name: "invalid bind DN",
			mutate: func(c *Configuration) {
				c.Hosts["ldap1"] = HostConfig{Address: "ldap1", BindDN: "admin", BaseDNs: []string{"dc=example"}}
			},
			wantErr: "invalid bind_dn",
		},
		{
			name: "missing address",
			mutate: func(c *Configuration) {
				c.Hosts["ldap1"] = HostConfig{BaseDNs: []string{"dc=example"}}
			},
			wantErr: "address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !errors.HasCode(err, errors.ErrCodeConfigValidation) {
				t.Errorf("Expected CONFIG_VALIDATION, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error to mention %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Hosts) != 2 {
		t.Errorf("Expected 2 hosts, got %d", len(cfg.Hosts))
	}

	if _, err := Load(writeConfig(t, "global:\n  log_level: LOUD\n")); err == nil {
		t.Error("Expected Load to validate")
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load without a file failed: %v", err)
	}
	if len(cfg.Hosts) != 0 {
		t.Errorf("Expected no hosts, got %d", len(cfg.Hosts))
	}
}

func TestHostTable(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(writeConfig(t, sampleConfig)); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	table := cfg.HostTable()
	hosts := table.Hosts()
	if len(hosts) != 2 || hosts[0] != "ldap-2" || hosts[1] != "ldap1" {
		t.Errorf("Unexpected hosts: %v", hosts)
	}
	if !table.HasBaseScope("ldap1", "ou=people,dc=example") {
		t.Error("Expected ldap1 to carry ou=people,dc=example")
	}

	table["ldap1"][0] = "dc=changed"
	if cfg.Hosts["ldap1"].BaseDNs[0] != "dc=example" {
		t.Error("HostTable must not alias the configuration")
	}
}

func TestDirectoryConfig(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(writeConfig(t, sampleConfig)); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	dc := cfg.DirectoryConfig()
	if dc.ConnectTimeout != 3*time.Second {
		t.Errorf("Expected connect timeout 3s, got %v", dc.ConnectTimeout)
	}
	if dc.Retry.MaxAttempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", dc.Retry.MaxAttempts)
	}
	if dc.CircuitBreaker != nil {
		t.Error("Expected no circuit breaker when disabled")
	}
	if got := dc.Hosts["ldap1"].URL(); got != "ldaps://ldap1.example.com:636" {
		t.Errorf("Unexpected URL %s", got)
	}

	cfg.Network.CircuitBreaker.Enabled = true
	dc = cfg.DirectoryConfig()
	if dc.CircuitBreaker == nil || dc.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("Unexpected circuit breaker config: %+v", dc.CircuitBreaker)
	}
}

func TestHealthConfig(t *testing.T) {
	cfg := NewDefault()
	cfg.Monitoring.Health.Interval = 15 * time.Second

	hc := cfg.HealthConfig()
	if hc.CheckInterval != 15*time.Second {
		t.Errorf("CheckInterval = %v, want 15s", hc.CheckInterval)
	}
	if hc.ErrorThreshold != 3 || hc.UnavailableThreshold != 10 {
		t.Errorf("thresholds = %d/%d, want 3/10", hc.ErrorThreshold, hc.UnavailableThreshold)
	}

	cfg.Monitoring.Health = HealthCheckConfig{}
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled health checks should not be validated: %v", err)
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(writeConfig(t, sampleConfig)); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	cfg.Global.LogFile = filepath.Join(t.TempDir(), "ldapfs.log")

	lc, err := cfg.LoggerConfig()
	if err != nil {
		t.Fatalf("LoggerConfig failed: %v", err)
	}
	if lc.Level != utils.DEBUG {
		t.Errorf("Expected DEBUG, got %v", lc.Level)
	}
	if lc.Format != utils.FormatJSON {
		t.Errorf("Expected JSON format")
	}
	if lc.ComponentLevels["directory"] != utils.WARN || lc.ComponentLevels["resolver"] != utils.TRACE {
		t.Errorf("Unexpected component levels: %v", lc.ComponentLevels)
	}
	if lc.Rotation == nil || lc.Rotation.MaxSize != 10*1024*1024 {
		t.Errorf("Unexpected rotation config: %+v", lc.Rotation)
	}
}

func TestSaveToFile(t *testing.T) {
	cfg := NewDefault()
	cfg.Hosts["ldap1"] = HostConfig{Address: "ldap1", BaseDNs: []string{"dc=example"}}

	path := filepath.Join(t.TempDir(), "nested", "ldapfs.yaml")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if loaded.Hosts["ldap1"].BaseDNs[0] != "dc=example" {
		t.Errorf("Host did not survive a save: %+v", loaded.Hosts)
	}
	if loaded.Network.Timeouts.Request != 10*time.Second {
		t.Errorf("Expected request timeout to survive a save, got %v", loaded.Network.Timeouts.Request)
	}
}
