package naming

import (
	"sort"
	"strings"
)

// HostTable maps a configured host identifier to its base scopes, in
// configuration order.
type HostTable map[string][]string

// Hosts returns the configured host identifiers, sorted.
func (t HostTable) Hosts() []string {
	hosts := make([]string, 0, len(t))
	for host := range t {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// BaseScopes returns a copy of the base scopes configured for host.
func (t HostTable) BaseScopes(host string) []string {
	return append([]string(nil), t[host]...)
}

// HasBaseScope reports whether scope is configured for host.
func (t HostTable) HasBaseScope(host, scope string) bool {
	for _, s := range t[host] {
		if s == scope {
			return true
		}
	}
	return false
}

// Path is a classified filesystem path. It is computed once per callback and
// never modified.
type Path struct {
	// Raw is the path as received from the FUSE runtime.
	Raw string
	// Parts are the non-empty components of Raw.
	Parts []string
	// Host is Parts[0] when it names a configured host.
	Host string
	// BaseScope is Parts[1] when Host is set and Parts[1] is one of its base scopes.
	BaseScope string
	// DNParts are the components from the base scope onward, leaf last.
	DNParts []string
}

// Classify splits raw on "/" and resolves the host and base scope against
// hosts. It performs no I/O.
func Classify(raw string, hosts HostTable) Path {
	p := Path{Raw: raw}
	for _, part := range strings.Split(raw, PathSeparator) {
		if part != "" {
			p.Parts = append(p.Parts, part)
		}
	}

	if len(p.Parts) == 0 {
		return p
	}
	if _, ok := hosts[p.Parts[0]]; !ok {
		return p
	}
	p.Host = p.Parts[0]

	if len(p.Parts) < 2 || !hosts.HasBaseScope(p.Host, p.Parts[1]) {
		return p
	}
	p.BaseScope = p.Parts[1]
	p.DNParts = p.Parts[1:]
	return p
}

// IsEmpty reports whether the raw path was the empty string.
func (p Path) IsEmpty() bool {
	return p.Raw == ""
}

// IsRoot reports whether the path has no components.
func (p Path) IsRoot() bool {
	return !p.IsEmpty() && len(p.Parts) == 0
}

// HasHost reports whether the first component resolved to a host.
func (p Path) HasHost() bool {
	return p.Host != ""
}

// HasBaseScope reports whether the second component resolved to a base scope.
func (p Path) HasBaseScope() bool {
	return p.BaseScope != ""
}

// Len is the number of components.
func (p Path) Len() int {
	return len(p.Parts)
}

// DirPart is the absolute path of the parent, "/" for top-level paths.
func (p Path) DirPart() string {
	if len(p.Parts) <= 1 {
		return PathSeparator
	}
	return PathSeparator + strings.Join(p.Parts[:len(p.Parts)-1], PathSeparator)
}

// FilePart is the last component, "" for the root.
func (p Path) FilePart() string {
	if len(p.Parts) == 0 {
		return ""
	}
	return p.Parts[len(p.Parts)-1]
}

// String is the normalised absolute form of the path.
func (p Path) String() string {
	return PathSeparator + strings.Join(p.Parts, PathSeparator)
}

// Child returns the classified path of name below p.
func (p Path) Child(name string, hosts HostTable) Path {
	return Classify(strings.TrimSuffix(p.String(), PathSeparator)+PathSeparator+name, hosts)
}
