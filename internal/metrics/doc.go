/*
Package metrics exports ldapfs activity to Prometheus.

	┌─────────────┐
	│  Collector  │  ← types.MetricsCollector
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌──────────▼────────┐
	│  Prometheus  │         │  HTTP Endpoints   │
	│   Registry   │         │  /metrics         │
	│              │         │  /health          │
	│ - Counters   │         │  /debug/operations│
	│ - Histograms │         └───────────────────┘
	│ - Gauges     │
	└──────────────┘

Exported series, with the default "ldapfs" namespace:

	ldapfs_operations_total{operation,result}    getattr, readdir, read, mkdir, mknod; result "ok" or an errno name
	ldapfs_operation_duration_seconds{operation}
	ldapfs_directory_lookups_total{outcome}      found, not_found, invalid_name, no_such_host, transport_error
	ldapfs_overlay_directories

The collector uses its own registry, so several collectors can coexist in
one process (tests rely on this). A disabled collector accepts every call
and records nothing.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: true,
		Port:    9108,
		Path:    "/metrics",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())
*/
package metrics
