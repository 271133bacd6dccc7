// Package overlay tracks directories created through the filesystem that
// have no LDAP object yet.
package overlay

import "sync"

// Overlay maps a parent path to the names created below it, in creation
// order. Entries live for the lifetime of the Overlay.
type Overlay struct {
	mu       sync.RWMutex
	children map[string][]string
	count    int
}

// New returns an empty Overlay.
func New() *Overlay {
	return &Overlay{children: make(map[string][]string)}
}

// RegisterChild records child under parent. Registering the same child twice
// keeps a single entry.
func (o *Overlay) RegisterChild(parent, child string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, c := range o.children[parent] {
		if c == child {
			return
		}
	}
	o.children[parent] = append(o.children[parent], child)
	o.count++
}

// ChildrenOf returns a copy of the names registered under parent.
func (o *Overlay) ChildrenOf(parent string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	children := o.children[parent]
	if len(children) == 0 {
		return nil
	}
	return append([]string(nil), children...)
}

// HasChildren reports whether anything was registered under parent.
func (o *Overlay) HasChildren(parent string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.children[parent]) > 0
}

// Contains reports whether child was registered under parent.
func (o *Overlay) Contains(parent, child string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, c := range o.children[parent] {
		if c == child {
			return true
		}
	}
	return false
}

// Len is the total number of registered children.
func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.count
}
