package adapter

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/ldapfs/ldapfs/internal/config"
	"github.com/ldapfs/ldapfs/internal/directory"
	"github.com/ldapfs/ldapfs/internal/fuse"
	"github.com/ldapfs/ldapfs/internal/metrics"
	"github.com/ldapfs/ldapfs/internal/overlay"
	"github.com/ldapfs/ldapfs/internal/resolver"
	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/health"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// mountWatchInterval is how often the mount table is checked
const mountWatchInterval = 30 * time.Second

// Adapter represents the main ldapfs adapter
type Adapter struct {
	mu         sync.Mutex
	mountPoint string
	config     *config.Configuration
	logger     *utils.StructuredLogger
	dial       directory.Dialer

	// Components, built by Start
	client   *directory.Client
	health   *health.Tracker
	metrics  *metrics.Collector
	overlay  *overlay.Overlay
	resolver *resolver.Resolver
	mount    fuse.PlatformFileSystem
	watcher  *fuse.MountWatcher

	stopChecks context.CancelFunc
	started    bool
}

// New creates a new ldapfs adapter instance. An empty mountPoint falls back
// to the configured one.
func New(ctx context.Context, mountPoint string, cfg *config.Configuration, logger *utils.StructuredLogger) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "configuration is required").
			WithComponent("adapter")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "invalid configuration").
			WithComponent("adapter").
			WithCause(err)
	}

	if mountPoint == "" {
		mountPoint = cfg.Mount.MountPoint
	}
	if mountPoint == "" {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "mount point is required").
			WithComponent("adapter")
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Adapter{
		mountPoint: mountPoint,
		config:     cfg,
		logger:     logger.WithComponent("adapter"),
		dial:       directory.DialLDAP,
	}, nil
}

// Start builds the components and mounts the filesystem. The metrics
// server stays up until ctx is done or Stop is called.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.NewError(errors.ErrCodeInternalError, "adapter already started").
			WithComponent("adapter")
	}

	a.logger.Info("Starting ldapfs", map[string]interface{}{
		"mount_point": a.mountPoint,
		"hosts":       len(a.config.Hosts),
		"read_only":   a.config.Mount.ReadOnly,
	})

	if err := a.build(ctx); err != nil {
		return err
	}

	a.mount = fuse.CreatePlatformMountManager(a.resolver, a.mountConfig(), a.logger)
	if err := a.mount.Mount(ctx); err != nil {
		a.release(ctx)
		return err
	}

	if manager, ok := a.mount.(*fuse.MountManager); ok {
		a.watcher = fuse.NewMountWatcher(manager, mountWatchInterval)
		a.watcher.Start()
	}

	a.started = true
	a.logger.Info("ldapfs started", map[string]interface{}{"mount_point": a.mountPoint})
	return nil
}

// build creates the metrics collector, the directory client with its host
// health tracker, and the resolver. Unreachable hosts do not fail the
// build; the client retries them on first use.
func (a *Adapter) build(ctx context.Context) error {
	collector, err := metrics.NewCollector(a.metricsConfig(), a.logger)
	if err != nil {
		return errors.NewError(errors.ErrCodeInternalError, "failed to create metrics collector").
			WithComponent("adapter").
			WithCause(err)
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	a.metrics = collector

	a.client = directory.NewClient(a.config.DirectoryConfig(), a.dial, a.logger)
	a.health = health.NewTracker(a.config.HealthConfig(), a.client.Hosts()...)
	a.health.OnStateChange(func(host string, from, to health.HealthState, err error) {
		fields := map[string]interface{}{"host": host, "from": from.String(), "to": to.String()}
		if err != nil {
			fields["error"] = err.Error()
		}
		a.logger.Warn("LDAP host health changed", fields)
	})
	a.client.SetHealthReporter(a.health)
	a.metrics.SetHealthSource(a.health.Summary)

	if err := a.client.Connect(ctx); err != nil {
		a.logger.Warn("Some LDAP hosts are unreachable", map[string]interface{}{"error": err.Error()})
	}

	if a.config.Monitoring.Health.Enabled {
		checkCtx, cancel := context.WithCancel(context.Background())
		a.stopChecks = cancel
		go a.health.Run(checkCtx, a.client.Ping)
	}

	a.overlay = overlay.New()
	a.resolver = resolver.New(resolver.Config{
		Hosts:     a.config.HostTable(),
		Directory: a.client,
		Overlay:   a.overlay,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	return nil
}

// Stop gracefully stops the adapter
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return errors.NewError(errors.ErrCodeInternalError, "adapter not started").
			WithComponent("adapter")
	}

	a.logger.Info("Stopping ldapfs", map[string]interface{}{"mount_point": a.mountPoint})

	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}

	var errs []error
	if a.mount != nil && a.mount.IsMounted() {
		if err := a.mount.Unmount(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, a.release(ctx)...)

	a.started = false
	return stderrors.Join(errs...)
}

// release stops the health checks, closes the directory client and stops
// the metrics server
func (a *Adapter) release(ctx context.Context) []error {
	if a.stopChecks != nil {
		a.stopChecks()
		a.stopChecks = nil
	}

	var errs []error
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Done is closed when the filesystem is unmounted, including by an external
// umount. It is nil before Start.
func (a *Adapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mount == nil {
		return nil
	}
	return a.mount.Done()
}

// HostHealth returns the health of every configured host. It is empty
// before Start.
func (a *Adapter) HostHealth() []health.HostHealth {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.health == nil {
		return nil
	}
	return a.health.Hosts()
}

// Stats returns the filesystem operation counters
func (a *Adapter) Stats() *fuse.FilesystemStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mount == nil {
		return &fuse.FilesystemStats{}
	}
	return a.mount.GetStats()
}

func (a *Adapter) mountConfig() *fuse.MountConfig {
	mc := fuse.DefaultMountConfig(a.mountPoint)
	m := a.config.Mount

	if m.FSName != "" {
		mc.Options.FSName = m.FSName
	}
	mc.Options.AllowOther = m.AllowOther
	mc.Options.ReadOnly = m.ReadOnly
	mc.Options.Debug = m.Debug
	mc.Options.AttrTimeout = m.AttrTimeout
	mc.Options.EntryTimeout = m.EntryTimeout
	return mc
}

func (a *Adapter) metricsConfig() *metrics.Config {
	m := a.config.Monitoring.Metrics
	return &metrics.Config{
		Enabled:   m.Enabled,
		Port:      m.Port,
		Path:      m.Path,
		Namespace: "ldapfs",
	}
}
