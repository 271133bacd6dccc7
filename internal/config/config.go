package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ldapfs/ldapfs/internal/circuit"
	"github.com/ldapfs/ldapfs/internal/directory"
	"github.com/ldapfs/ldapfs/internal/naming"
	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/health"
	"github.com/ldapfs/ldapfs/pkg/retry"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig          `yaml:"global"`
	Mount      MountConfig           `yaml:"mount"`
	Network    NetworkConfig         `yaml:"network"`
	Monitoring MonitoringConfig      `yaml:"monitoring"`
	Hosts      map[string]HostConfig `yaml:"hosts"`
}

// GlobalConfig represents logging settings
type GlobalConfig struct {
	LogLevel        string            `yaml:"log_level"`
	LogFile         string            `yaml:"log_file"`
	LogFormat       string            `yaml:"log_format"`
	ComponentLevels map[string]string `yaml:"component_levels"`
	// LogLevels is the compact "component:LEVEL,..." form; entries here
	// override ComponentLevels.
	LogLevels   string            `yaml:"log_levels,omitempty"`
	LogRotation LogRotationConfig `yaml:"log_rotation"`
}

// LogRotationConfig applies when LogFile is set
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// MountConfig represents FUSE mount settings
type MountConfig struct {
	MountPoint   string        `yaml:"mount_point"`
	FSName       string        `yaml:"fsname"`
	AllowOther   bool          `yaml:"allow_other"`
	ReadOnly     bool          `yaml:"read_only"`
	Debug        bool          `yaml:"debug"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// NetworkConfig represents LDAP connection behaviour
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig represents timeout settings
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Request time.Duration `yaml:"request"`
}

// RetryConfig represents retry settings for binds
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig     `yaml:"metrics"`
	Health  HealthCheckConfig `yaml:"health"`
}

// HealthCheckConfig controls per-host health tracking. Probes read each
// host's first base DN.
type HealthCheckConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	ErrorThreshold       int           `yaml:"error_threshold"`
	UnavailableThreshold int           `yaml:"unavailable_threshold"`
}

// MetricsConfig represents the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// HostConfig describes one LDAP server and the trees exposed from it
type HostConfig struct {
	Address            string   `yaml:"address"`
	Port               int      `yaml:"port"`
	UseTLS             bool     `yaml:"use_tls"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	BindDN             string   `yaml:"bind_dn"`
	BindPassword       string   `yaml:"bind_password"`
	BaseDNs            []string `yaml:"base_dns"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
			LogRotation: LogRotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
		Mount: MountConfig{
			FSName:       "ldapfs",
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 2 * time.Second,
				Request: 10 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Port:    9108,
				Path:    "/metrics",
			},
			Health: HealthCheckConfig{
				Enabled:              true,
				Interval:             time.Minute,
				ErrorThreshold:       3,
				UnavailableThreshold: 10,
			},
		},
		Hosts: map[string]HostConfig{},
	}
}

// Load builds a configuration from defaults, the file (when filename is not
// empty) and the environment, then validates it.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("file", filename).
			WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("file", filename).
			WithCause(err)
	}

	return nil
}

// LoadFromEnv applies LDAPFS_* environment overrides
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("LDAPFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("LDAPFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("LDAPFS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("LDAPFS_LOG_LEVELS"); val != "" {
		c.Global.LogLevels = val
	}
	if val := os.Getenv("LDAPFS_MOUNT_POINT"); val != "" {
		c.Mount.MountPoint = val
	}
	if val := os.Getenv("LDAPFS_METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.NewError(errors.ErrCodeInvalidConfig, "LDAPFS_METRICS_PORT is not a number").
				WithComponent("config").
				WithCause(err)
		}
		c.Monitoring.Metrics.Port = port
		c.Monitoring.Metrics.Enabled = true
	}

	// Passwords are kept out of the file with LDAPFS_BIND_PASSWORD_<HOST>,
	// where HOST is upper-cased and "-" or "." become "_".
	for name, host := range c.Hosts {
		if val, ok := os.LookupEnv("LDAPFS_BIND_PASSWORD_" + envSuffix(name)); ok {
			host.BindPassword = val
			c.Hosts[name] = host
		}
	}

	return nil
}

func envSuffix(host string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToUpper(host))
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the whole configuration and reports every problem found
func (c *Configuration) Validate() error {
	var problems []string

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log_level: %s", c.Global.LogLevel))
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log_format: %s", c.Global.LogFormat))
	}
	for component, level := range c.Global.ComponentLevels {
		if _, err := utils.ParseLogLevel(level); err != nil {
			problems = append(problems, fmt.Sprintf("invalid level %q for component %s", level, component))
		}
	}
	if _, err := utils.ParseComponentLevels(c.Global.LogLevels); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log_levels: %v", err))
	}
	if c.Global.LogRotation.MaxSizeMB < 0 || c.Global.LogRotation.MaxBackups < 0 {
		problems = append(problems, "log_rotation values must not be negative")
	}

	if c.Mount.AttrTimeout < 0 || c.Mount.EntryTimeout < 0 {
		problems = append(problems, "mount timeouts must not be negative")
	}

	if c.Network.Timeouts.Connect < 0 || c.Network.Timeouts.Request < 0 {
		problems = append(problems, "network timeouts must not be negative")
	}
	if c.Network.Retry.MaxAttempts < 0 {
		problems = append(problems, "retry.max_attempts must not be negative")
	}
	if c.Network.CircuitBreaker.Enabled && c.Network.CircuitBreaker.FailureThreshold <= 0 {
		problems = append(problems, "circuit_breaker.failure_threshold must be greater than 0")
	}

	if m := c.Monitoring.Metrics; m.Enabled {
		if m.Port <= 0 || m.Port > 65535 {
			problems = append(problems, fmt.Sprintf("invalid metrics port: %d", m.Port))
		}
		if !strings.HasPrefix(m.Path, "/") {
			problems = append(problems, fmt.Sprintf("metrics path must start with /: %q", m.Path))
		}
	}

	if h := c.Monitoring.Health; h.Enabled {
		if h.Interval <= 0 {
			problems = append(problems, "health.interval must be greater than 0")
		}
		if h.ErrorThreshold <= 0 || h.UnavailableThreshold < h.ErrorThreshold {
			problems = append(problems, "health thresholds must satisfy 0 < error_threshold <= unavailable_threshold")
		}
	}

	for _, name := range c.HostNames() {
		problems = append(problems, validateHost(name, c.Hosts[name])...)
	}

	if len(problems) > 0 {
		return errors.NewError(errors.ErrCodeConfigValidation, strings.Join(problems, "; ")).
			WithComponent("config")
	}
	return nil
}

func validateHost(name string, h HostConfig) []string {
	var problems []string

	if strings.Contains(name, naming.PathSeparator) {
		problems = append(problems, fmt.Sprintf("host %s: name must not contain %q", name, naming.PathSeparator))
	}
	if h.Address == "" {
		problems = append(problems, fmt.Sprintf("host %s: address is required", name))
	}
	if h.Port < 0 || h.Port > 65535 {
		problems = append(problems, fmt.Sprintf("host %s: invalid port %d", name, h.Port))
	}
	if len(h.BaseDNs) == 0 {
		problems = append(problems, fmt.Sprintf("host %s: at least one base_dn is required", name))
	}
	for _, base := range h.BaseDNs {
		if strings.Contains(base, naming.PathSeparator) {
			problems = append(problems, fmt.Sprintf("host %s: base_dn %q must not contain %q", name, base, naming.PathSeparator))
			continue
		}
		if _, err := naming.ParseName(base); err != nil {
			problems = append(problems, fmt.Sprintf("host %s: invalid base_dn %q", name, base))
		}
	}
	if h.BindDN != "" {
		if _, err := naming.ParseName(h.BindDN); err != nil {
			problems = append(problems, fmt.Sprintf("host %s: invalid bind_dn %q", name, h.BindDN))
		}
	}
	return problems
}

// HostNames returns the configured host identifiers, sorted
func (c *Configuration) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for name := range c.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HostTable returns the host to base scope table used for path classification
func (c *Configuration) HostTable() naming.HostTable {
	table := make(naming.HostTable, len(c.Hosts))
	for name, h := range c.Hosts {
		table[name] = append([]string(nil), h.BaseDNs...)
	}
	return table
}

// DirectoryConfig returns the LDAP client configuration
func (c *Configuration) DirectoryConfig() directory.Config {
	hosts := make(map[string]directory.HostConfig, len(c.Hosts))
	for name, h := range c.Hosts {
		hosts[name] = directory.HostConfig{
			Address:            h.Address,
			Port:               h.Port,
			UseTLS:             h.UseTLS,
			InsecureSkipVerify: h.InsecureSkipVerify,
			BindDN:             h.BindDN,
			BindPassword:       h.BindPassword,
		}
	}

	dc := directory.Config{
		Hosts:          hosts,
		ConnectTimeout: c.Network.Timeouts.Connect,
		RequestTimeout: c.Network.Timeouts.Request,
		Retry: retry.Config{
			MaxAttempts: c.Network.Retry.MaxAttempts,
			BaseDelay:   c.Network.Retry.BaseDelay,
			MaxDelay:    c.Network.Retry.MaxDelay,
			Jitter:      true,
		},
	}
	if cb := c.Network.CircuitBreaker; cb.Enabled {
		dc.CircuitBreaker = &circuit.Config{
			FailureThreshold: uint32(cb.FailureThreshold),
			Timeout:          cb.Timeout,
		}
	}
	return dc
}

// HealthConfig returns the host health tracker settings
func (c *Configuration) HealthConfig() health.TrackerConfig {
	h := c.Monitoring.Health
	return health.TrackerConfig{
		ErrorThreshold:       h.ErrorThreshold,
		UnavailableThreshold: h.UnavailableThreshold,
		CheckInterval:        h.Interval,
	}
}

// LoggerConfig returns the structured logger configuration. The level and
// format have already been checked by Validate.
func (c *Configuration) LoggerConfig() (*utils.StructuredLoggerConfig, error) {
	level, err := utils.ParseLogLevel(c.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := utils.ParseLogFormat(c.Global.LogFormat)
	if err != nil {
		return nil, err
	}

	components := make(map[string]utils.LogLevel, len(c.Global.ComponentLevels))
	for component, l := range c.Global.ComponentLevels {
		parsed, err := utils.ParseLogLevel(l)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", component, err)
		}
		components[component] = parsed
	}
	compact, err := utils.ParseComponentLevels(c.Global.LogLevels)
	if err != nil {
		return nil, err
	}
	for component, l := range compact {
		components[component] = l
	}

	lc := utils.DefaultStructuredLoggerConfig()
	lc.Level = level
	lc.Format = format
	lc.ComponentLevels = components
	lc.IncludeCaller = level <= utils.DEBUG
	if c.Global.LogFile != "" {
		lc.Rotation = &utils.RotationConfig{
			Filename:   c.Global.LogFile,
			MaxSize:    int64(c.Global.LogRotation.MaxSizeMB) * 1024 * 1024,
			MaxBackups: c.Global.LogRotation.MaxBackups,
			Compress:   c.Global.LogRotation.Compress,
		}
	}
	return lc, nil
}
