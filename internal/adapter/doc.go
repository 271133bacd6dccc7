/*
Package adapter wires the ldapfs components together and owns their
lifecycle.

	┌─────────────────────────────────────────────┐
	│            Kernel VFS/FUSE                  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              ADAPTER LAYER                  │ ← This Package
	└─────────────────────────────────────────────┘
	        │           │            │           │
	┌───────┴───┐ ┌─────┴────┐ ┌─────┴─────┐ ┌───┴─────┐
	│ Directory │ │ Resolver │ │  Overlay  │ │ Metrics │
	│  (LDAP)   │ │          │ │ (mkdir)   │ │         │
	└───────────┘ └──────────┘ └───────────┘ └─────────┘

# Lifecycle

Start runs these steps in order:

 1. Start the metrics collector (a no-op when metrics are disabled).
 2. Create the directory client with a host health tracker, point the
    collector's /health endpoint at the tracker and bind to every
    configured host. Unreachable hosts are logged and retried on first use.
 3. Start the periodic host probes when monitoring.health is enabled.
 4. Create an empty overlay and the resolver.
 5. Mount the platform filesystem and start the mount watcher.

Stop unmounts, stops the probes, closes the LDAP connections and stops the metrics server.
Errors from each step are joined into one.

# Usage

	a, err := adapter.New(ctx, "/mnt/ldap", cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
*/
package adapter
