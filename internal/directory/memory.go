package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/ldapfs/ldapfs/internal/entry"
	"github.com/ldapfs/ldapfs/internal/naming"
	"github.com/ldapfs/ldapfs/pkg/errors"
)

// Memory is an in-process directory tree keyed by host. It implements
// types.Directory with the same error codes as Client.
type Memory struct {
	mu    sync.RWMutex
	hosts map[string]*memoryTree
}

type memoryTree struct {
	order   []string
	objects map[string]*entry.Entry
	fail    error
}

// NewMemory returns an empty tree for each of hosts.
func NewMemory(hosts ...string) *Memory {
	m := &Memory{hosts: make(map[string]*memoryTree)}
	for _, h := range hosts {
		m.hosts[h] = &memoryTree{objects: make(map[string]*entry.Entry)}
	}
	return m
}

// Add stores an object, replacing any object with the same DN. The host is
// created when missing.
func (m *Memory) Add(host, dn string, attrs ...entry.Attribute) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree, ok := m.hosts[host]
	if !ok {
		tree = &memoryTree{objects: make(map[string]*entry.Entry)}
		m.hosts[host] = tree
	}

	key := normalizeDN(dn)
	if _, exists := tree.objects[key]; !exists {
		tree.order = append(tree.order, key)
	}
	tree.objects[key] = entry.New(dn, attrs...)
}

// SetFailure makes every call against host fail with err until cleared with nil.
func (m *Memory) SetFailure(host string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tree, ok := m.hosts[host]; ok {
		tree.fail = err
	}
}

func (m *Memory) tree(host, dn, op string) (*memoryTree, error) {
	tree, ok := m.hosts[host]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeNoSuchHost, "host %s is not configured", host).
			WithComponent("directory").
			WithOperation(op)
	}
	if tree.fail != nil {
		return nil, errors.NewError(errors.ErrCodeTransportError, "request failed").
			WithComponent("directory").
			WithOperation(op).
			WithContext("host", host).
			WithCause(tree.fail)
	}
	if _, err := naming.ParseName(dn); err != nil {
		return nil, err
	}
	return tree, nil
}

func (m *Memory) Exists(ctx context.Context, host, dn string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tree, err := m.tree(host, dn, "exists")
	if err != nil {
		return false, err
	}
	_, ok := tree.objects[normalizeDN(dn)]
	return ok, nil
}

func (m *Memory) Get(ctx context.Context, host, dn string, attrsOnly bool) (*entry.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tree, err := m.tree(host, dn, "get")
	if err != nil {
		return nil, err
	}
	e, ok := tree.objects[normalizeDN(dn)]
	if !ok {
		return nil, notFound(host, dn, "get")
	}
	if attrsOnly {
		return stripValues(e), nil
	}
	return e, nil
}

func (m *Memory) Search(ctx context.Context, host, dn string, recursive, attrsOnly bool) ([]*entry.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tree, err := m.tree(host, dn, "search")
	if err != nil {
		return nil, err
	}
	base := normalizeDN(dn)
	if _, ok := tree.objects[base]; !ok {
		return nil, notFound(host, dn, "search")
	}

	var results []*entry.Entry
	for _, key := range tree.order {
		if !isDescendant(key, base) {
			continue
		}
		if !recursive && parentDN(key) != base {
			continue
		}
		e := tree.objects[key]
		if attrsOnly {
			e = stripValues(e)
		}
		results = append(results, e)
	}
	return results, nil
}

func notFound(host, dn, op string) error {
	return errors.Newf(errors.ErrCodeObjectNotFound, "no object %s", dn).
		WithComponent("directory").
		WithOperation(op).
		WithContext("host", host)
}

func stripValues(e *entry.Entry) *entry.Entry {
	names := e.Names()
	attrs := make([]entry.Attribute, len(names))
	for i, n := range names {
		attrs[i] = entry.Attribute{Name: n}
	}
	return entry.New(e.DN(), attrs...)
}

// normalizeDN lowercases dn and drops spaces around separators.
func normalizeDN(dn string) string {
	rdns := splitRDNs(dn)
	for i, r := range rdns {
		rdns[i] = strings.ToLower(strings.TrimSpace(r))
	}
	return strings.Join(rdns, ",")
}

// parentDN drops the first RDN of a normalised DN.
func parentDN(dn string) string {
	rdns := splitRDNs(dn)
	if len(rdns) <= 1 {
		return ""
	}
	return strings.Join(rdns[1:], ",")
}

// isDescendant reports whether normalised dn lies strictly below base.
func isDescendant(dn, base string) bool {
	rdns, baseRDNs := splitRDNs(dn), splitRDNs(base)
	if len(rdns) <= len(baseRDNs) {
		return false
	}
	return strings.Join(rdns[len(rdns)-len(baseRDNs):], ",") == base
}

// splitRDNs splits dn on commas that are not escaped with a backslash.
func splitRDNs(dn string) []string {
	var rdns []string
	start := 0
	escaped := false
	for i := 0; i < len(dn); i++ {
		switch {
		case escaped:
			escaped = false
		case dn[i] == '\\':
			escaped = true
		case dn[i] == ',':
			rdns = append(rdns, dn[start:i])
			start = i + 1
		}
	}
	return append(rdns, dn[start:])
}
