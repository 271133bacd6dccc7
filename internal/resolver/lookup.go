package resolver

import (
	"context"
	"syscall"
	"time"

	"github.com/ldapfs/ldapfs/internal/entry"
	"github.com/ldapfs/ldapfs/internal/naming"
	"github.com/ldapfs/ldapfs/pkg/errors"
	"github.com/ldapfs/ldapfs/pkg/types"
)

func (r *Resolver) exists(ctx context.Context, p naming.Path, op string, name naming.Name) (bool, error) {
	found, err := r.dir.Exists(ctx, p.Host, name.String())
	if err == nil && !found {
		r.metrics.RecordLookup(types.LookupNotFound)
		return false, nil
	}
	r.observe(p, op, name.String(), err)
	return found, err
}

func (r *Resolver) get(ctx context.Context, p naming.Path, op string, name naming.Name, attrsOnly bool) (*entry.Entry, error) {
	e, err := r.dir.Get(ctx, p.Host, name.String(), attrsOnly)
	r.observe(p, op, name.String(), err)
	return e, err
}

func (r *Resolver) search(ctx context.Context, p naming.Path, op string, name naming.Name) ([]*entry.Entry, error) {
	children, err := r.dir.Search(ctx, p.Host, name.String(), false, true)
	r.observe(p, op, name.String(), err)
	return children, err
}

// observe counts the outcome of a directory call. Absent objects and bad
// names are routine and logged at debug; transport failures mean a server is
// unreachable and are logged as warnings.
func (r *Resolver) observe(p naming.Path, op, dn string, err error) {
	outcome := lookupOutcome(err)
	r.metrics.RecordLookup(outcome)
	if err == nil {
		return
	}

	fields := map[string]interface{}{
		"operation": op,
		"path":      p.Raw,
		"host":      p.Host,
		"dn":        dn,
		"error":     err.Error(),
	}
	if outcome == types.LookupTransportError {
		r.logger.Warn("Directory lookup failed", fields)
		return
	}
	r.logger.Debug("Directory lookup missed", fields)
}

func (r *Resolver) nameFailed(p naming.Path, op string, err error) {
	r.metrics.RecordLookup(types.LookupInvalidName)
	r.logger.Debug("Invalid distinguished name", map[string]interface{}{
		"operation": op,
		"path":      p.Raw,
		"error":     err.Error(),
	})
}

func lookupOutcome(err error) string {
	switch {
	case err == nil:
		return types.LookupFound
	case errors.IsNotFound(err):
		return types.LookupNotFound
	case errors.IsInvalidName(err):
		return types.LookupInvalidName
	case errors.HasCode(err, errors.ErrCodeNoSuchHost):
		return types.LookupNoSuchHost
	default:
		return types.LookupTransportError
	}
}

func (r *Resolver) finish(op string, start time.Time, errno syscall.Errno) {
	r.metrics.RecordOperation(op, ResultLabel(errno), time.Since(start))
}

var errnoNames = map[syscall.Errno]string{
	syscall.ENOENT: "ENOENT",
	syscall.EPERM:  "EPERM",
	syscall.EINVAL: "EINVAL",
	syscall.EIO:    "EIO",
	syscall.EEXIST: "EEXIST",
	syscall.EROFS:  "EROFS",
}

// ResultLabel names errno for metrics: "ok" for success, the errno constant
// name otherwise.
func ResultLabel(errno syscall.Errno) string {
	if errno == 0 {
		return "ok"
	}
	if name, ok := errnoNames[errno]; ok {
		return name
	}
	return errno.Error()
}
