package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/utils"
)

// ResultOK is the result label of a successful operation.
const ResultOK = "ok"

// Collector implements types.MetricsCollector on a private Prometheus registry
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	lookupCounter     *prometheus.CounterVec
	overlayGauge      prometheus.Gauge

	// Internal tracking for /debug/operations
	operations map[string]*OperationMetrics
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server   *http.Server
	listener net.Listener
	stopCh   chan struct{} // closed by Stop
	watchEnd chan struct{} // closed when the shutdown watcher returns

	healthSource HealthSource
}

// HealthSource reports the overall status and the status of each host.
type HealthSource func() (status string, hosts map[string]string)

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// OperationMetrics summarises one filesystem operation
type OperationMetrics struct {
	Count         int64            `json:"count"`
	Errors        int64            `json:"errors"`
	Results       map[string]int64 `json:"results"`
	TotalDuration time.Duration    `json:"total_duration"`
	AvgDuration   time.Duration    `json:"avg_duration"`
	LastOperation time.Time        `json:"last_operation"`
}

// DefaultConfig returns the configuration used when NewCollector gets nil
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9108,
		Path:      "/metrics",
		Namespace: "ldapfs",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *utils.StructuredLogger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}
	if config.Namespace == "" {
		config.Namespace = "ldapfs"
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		logger:     logger.WithComponent("metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry exposes the private registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics endpoints
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start starts the metrics HTTP server. The listener is bound before Start
// returns so a port conflict is reported to the caller.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return errors.NewError(errors.ErrCodeInternalError, "failed to start metrics server").
			WithComponent("metrics").
			WithContext("port", fmt.Sprintf("%d", c.config.Port)).
			WithCause(err)
	}

	c.mu.Lock()
	c.listener = listener
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	stop := make(chan struct{})
	watchEnd := make(chan struct{})
	c.stopCh = stop
	c.watchEnd = watchEnd
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	go func() {
		defer close(watchEnd)
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Stop(shutdownCtx)
		case <-stop:
		}
	}()

	c.logger.Info("Metrics server listening", map[string]interface{}{
		"address": listener.Addr().String(),
		"path":    c.config.Path,
	})
	return nil
}

// Addr is the address the server listens on, empty before Start
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one filesystem callback and its result
func (c *Collector) RecordOperation(operation, result string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	op, exists := c.operations[operation]
	if !exists {
		op = &OperationMetrics{Results: make(map[string]int64)}
		c.operations[operation] = op
	}
	op.Count++
	op.Results[result]++
	if result != ResultOK {
		op.Errors++
	}
	op.TotalDuration += duration
	op.AvgDuration = time.Duration(int64(op.TotalDuration) / op.Count)
	op.LastOperation = time.Now()
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"result":    result,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())
}

// RecordLookup records the outcome of one directory call
func (c *Collector) RecordLookup(outcome string) {
	if !c.config.Enabled {
		return
	}

	c.lookupCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// SetOverlayDirectories updates the overlay size gauge
func (c *Collector) SetOverlayDirectories(n int) {
	if !c.config.Enabled {
		return
	}

	c.overlayGauge.Set(float64(n))
}

// GetOperations returns a copy of the per-operation summaries
func (c *Collector) GetOperations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for name, op := range c.operations {
		cp := *op
		cp.Results = make(map[string]int64, len(op.Results))
		for k, v := range op.Results {
			cp.Results[k] = v
		}
		out[name] = cp
	}
	return out
}

// ResetMetrics clears the per-operation summaries. Prometheus counters are
// left untouched.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Name:        "operations_total",
			Help:        "Total number of filesystem operations by result",
			ConstLabels: c.config.Labels,
		},
		[]string{"operation", "result"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Name:        "operation_duration_seconds",
			Help:        "Duration of filesystem operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			ConstLabels: c.config.Labels,
		},
		[]string{"operation"},
	)

	c.lookupCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Name:        "directory_lookups_total",
			Help:        "Total number of LDAP lookups by outcome",
			ConstLabels: c.config.Labels,
		},
		[]string{"outcome"},
	)

	c.overlayGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Name:        "overlay_directories",
			Help:        "Directories created through the filesystem without an LDAP object",
			ConstLabels: c.config.Labels,
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.lookupCounter,
		c.overlayGauge,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

// SetHealthSource makes /health report per-host status. Without a source
// the endpoint always answers healthy.
func (c *Collector) SetHealthSource(source HealthSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthSource = source
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	source := c.healthSource
	c.mu.RUnlock()

	body := struct {
		Status  string            `json:"status"`
		Service string            `json:"service"`
		Hosts   map[string]string `json:"hosts,omitempty"`
	}{Status: "healthy", Service: "ldapfs"}
	if source != nil {
		body.Status, body.Hosts = source()
	}

	w.Header().Set("Content-Type", "application/json")
	if body.Status == "unavailable" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	operations := c.GetOperations()

	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(operations)
		return
	}

	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("ldapfs Operations Summary\n")
	writef("=========================\n\n")
	writef("Uptime: %v\n", time.Since(lastReset).Truncate(time.Second))
	writef("Last Reset: %v\n\n", lastReset.Format(time.RFC3339))

	if len(operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)

	writef("%-12s %10s %10s %14s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
	writef("%-12s %10s %10s %14s %10s\n", "---------", "-----", "------", "------------", "-------")
	for _, name := range names {
		op := operations[name]
		writef("%-12s %10d %10d %14v %10s\n",
			name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
	}
}
