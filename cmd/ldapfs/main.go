// Command ldapfs mounts one or more LDAP directories as a filesystem.
//
//	ldapfs --config /etc/ldapfs/ldapfs.yaml --mountpoint /mnt/ldap
//
// Hosts appear at the top level, their base DNs below them, and every LDAP
// object is a directory holding one file per attribute plus =attributes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ldapfs/ldapfs/internal/adapter"
	"github.com/ldapfs/ldapfs/internal/config"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	defaultConfigPath = "/etc/ldapfs/ldapfs.yaml"
	shutdownTimeout   = 10 * time.Second
)

type options struct {
	configPath    string
	mountPoint    string
	logLevel      string
	debug         bool
	readOnly      bool
	writeDefaults string
	showVersion   bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ldapfs: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if opts.showVersion {
		fmt.Printf("ldapfs %s\n", version)
		return nil
	}
	if opts.writeDefaults != "" {
		return config.NewDefault().SaveToFile(opts.writeDefaults)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	loggerConfig, err := cfg.LoggerConfig()
	if err != nil {
		return err
	}
	logger, err := utils.NewStructuredLogger(loggerConfig)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := adapter.New(ctx, opts.mountPoint, cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-a.Done():
		logger.Warn("Filesystem was unmounted externally")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		logger.Error("Shutdown finished with errors", map[string]interface{}{"error": err.Error()})
		return err
	}

	stats := a.Stats()
	logger.Info("ldapfs stopped", map[string]interface{}{
		"lookups":    stats.Lookups,
		"reads":      stats.Reads,
		"bytes_read": stats.BytesRead,
		"errors":     stats.Errors,
	})
	return nil
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}

	flagSet := pflag.NewFlagSet("ldapfs", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	flagSet.StringVarP(&opts.mountPoint, "mountpoint", "m", "", "directory to mount on (overrides mount.mount_point)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: TRACE, DEBUG, INFO, WARN, ERROR")
	flagSet.BoolVarP(&opts.debug, "debug", "d", false, "debug logging and FUSE request tracing")
	flagSet.BoolVar(&opts.readOnly, "read-only", false, "reject mkdir and mknod")
	flagSet.StringVar(&opts.writeDefaults, "write-default-config", "", "write the default configuration to this file and exit")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ldapfs [flags] [mountpoint]\n\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	// A positional mount point, as with mount(8).
	if rest := flagSet.Args(); len(rest) > 0 {
		if len(rest) > 1 || opts.mountPoint != "" {
			return nil, fmt.Errorf("expected at most one mount point, got %v", rest)
		}
		opts.mountPoint = rest[0]
	}
	return opts, nil
}

// loadConfig applies the file, the environment and finally the flags
func loadConfig(opts *options) (*config.Configuration, error) {
	path := opts.configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Global.LogLevel = opts.logLevel
	}
	if opts.debug {
		cfg.Global.LogLevel = "DEBUG"
		cfg.Mount.Debug = true
	}
	if opts.readOnly {
		cfg.Mount.ReadOnly = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
