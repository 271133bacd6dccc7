package types

import (
	"context"
	"time"

	"github.com/ldapfs/ldapfs/internal/entry"
)

// Directory is the LDAP side of the filesystem. dn is a validated
// distinguished name; host is a configured host identifier. Errors carry one
// of the codes INVALID_NAME, OBJECT_NOT_FOUND, NO_SUCH_HOST or
// TRANSPORT_ERROR (CONNECTION_FAILED and CIRCUIT_OPEN count as transport).
type Directory interface {
	// Exists reports whether an object named dn exists. A missing object is
	// (false, nil), not an error.
	Exists(ctx context.Context, host, dn string) (bool, error)

	// Get reads one object. With attrsOnly the attribute names are returned
	// without values.
	Get(ctx context.Context, host, dn string, attrsOnly bool) (*entry.Entry, error)

	// Search returns the objects below dn, one level or the whole subtree.
	// The object dn itself is not included.
	Search(ctx context.Context, host, dn string, recursive, attrsOnly bool) ([]*entry.Entry, error)
}

// MetricsCollector receives operation outcomes from the resolver.
type MetricsCollector interface {
	// RecordOperation records one filesystem callback and its result
	// ("ok" or an errno name).
	RecordOperation(operation, result string, duration time.Duration)

	// RecordLookup records the outcome of one directory call.
	RecordLookup(outcome string)

	// SetOverlayDirectories reports the overlay size.
	SetOverlayDirectories(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordOperation(string, string, time.Duration) {}
func (NopMetrics) RecordLookup(string)                           {}
func (NopMetrics) SetOverlayDirectories(int)                     {}
