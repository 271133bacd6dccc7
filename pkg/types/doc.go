/*
Package types provides the contracts shared between the ldapfs components.

	┌─────────────────────────────────────────────┐
	│              FUSE Interface                 │
	│         (cmd/ldapfs, internal/fuse)         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Resolver                       │
	│  (internal/resolver, naming, entry, overlay)│
	└─────────────────────────────────────────────┘
	          │                         │
	┌─────────┴──────────┐   ┌──────────┴─────────┐
	│     Directory      │   │  MetricsCollector  │
	│(internal/directory)│   │ (internal/metrics) │
	└────────────────────┘   └────────────────────┘

Directory is implemented by the go-ldap client in internal/directory and by
an in-memory tree used in tests. MetricsCollector is implemented by the
Prometheus collector in internal/metrics; NopMetrics discards everything.

Attr is what the resolver reports for a path. Directories always have size
DirSize and mode DirMode; attribute files have mode FileMode and the exact
byte size of their rendering.
*/
package types
