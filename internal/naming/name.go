package naming

import (
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/ldapfs/ldapfs/pkg/errors"
)

// RDNSeparator joins relative distinguished names into a DN.
const RDNSeparator = ","

// Name is a distinguished name that passed DN grammar validation. The zero
// value is not a valid Name.
type Name struct {
	dn   string
	rdns int
}

// ParseName validates s against the DN grammar. Every RDN must carry an
// attribute type and the DN must have at least one RDN.
func ParseName(s string) (Name, error) {
	parsed, err := ldap.ParseDN(s)
	if err != nil {
		return Name{}, invalidName(s, err.Error()).WithCause(err)
	}
	if len(parsed.RDNs) == 0 {
		return Name{}, invalidName(s, "empty distinguished name")
	}
	for _, rdn := range parsed.RDNs {
		if len(rdn.Attributes) == 0 {
			return Name{}, invalidName(s, "empty relative distinguished name")
		}
		for _, attr := range rdn.Attributes {
			if strings.TrimSpace(attr.Type) == "" {
				return Name{}, invalidName(s, "missing attribute type")
			}
		}
	}
	return Name{dn: s, rdns: len(parsed.RDNs)}, nil
}

func invalidName(dn, reason string) *errors.LdapfsError {
	return errors.NewError(errors.ErrCodeInvalidName, reason).
		WithComponent("naming").
		WithContext("dn", dn)
}

// BuildName turns DN path components (base scope first, leaf last) into a
// Name: the components are reversed, unescaped and joined with ",".
func BuildName(parts []string) (Name, error) {
	if len(parts) == 0 {
		return Name{}, invalidName("", "no path components")
	}

	rdns := make([]string, len(parts))
	for i, part := range parts {
		rdns[len(parts)-1-i] = Unescape(part)
	}
	return ParseName(strings.Join(rdns, RDNSeparator))
}

// ParentName builds the Name of the object one level above parts.
func ParentName(parts []string) (Name, error) {
	if len(parts) < 2 {
		return Name{}, invalidName("", "no parent component")
	}
	return BuildName(parts[:len(parts)-1])
}

// String returns the DN as it was built.
func (n Name) String() string {
	return n.dn
}

// IsZero reports whether n is the zero Name.
func (n Name) IsZero() bool {
	return n.dn == "" && n.rdns == 0
}

// Depth is the number of RDNs in the name.
func (n Name) Depth() int {
	return n.rdns
}

// NameToFilename derives the directory entry name of dn below ancestor. When
// both parse, the RDNs dn carries above ancestor are kept with the spacing
// between RDNs dropped, so "cn=bob, ou=people" below "ou=people" is "cn=bob".
// Otherwise the ancestor suffix is removed as text (exact match first, then
// case-insensitively, as servers may normalise attribute types) followed by
// one trailing "," unless it is escaped with "\". The result is escaped.
func NameToFilename(dn, ancestor string) string {
	rel := dn
	if ancestor != "" {
		if lead, ok := leadingRDNs(dn, ancestor); ok {
			return Escape(lead)
		}
	}
	switch {
	case ancestor == "":
	case strings.HasSuffix(dn, ancestor):
		rel = dn[:len(dn)-len(ancestor)]
	case len(dn) >= len(ancestor) && strings.EqualFold(dn[len(dn)-len(ancestor):], ancestor):
		rel = dn[:len(dn)-len(ancestor)]
	}

	if strings.HasSuffix(rel, RDNSeparator) && !(len(rel) >= 2 && rel[len(rel)-2] == '\\') {
		rel = rel[:len(rel)-1]
	}
	return Escape(rel)
}

// leadingRDNs returns the text of the RDNs dn carries above ancestor, with
// the spacing around each RDN removed. It fails when either name does not
// parse or ancestor is not an ancestor of dn.
func leadingRDNs(dn, ancestor string) (string, bool) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", false
	}
	base, err := ldap.ParseDN(ancestor)
	if err != nil || !base.AncestorOfFold(parsed) {
		return "", false
	}

	segments := splitRDNs(dn)
	if len(segments) != len(parsed.RDNs) {
		return "", false
	}
	keep := segments[:len(parsed.RDNs)-len(base.RDNs)]
	for i, seg := range keep {
		keep[i] = trimRDN(seg)
	}
	return strings.Join(keep, RDNSeparator), true
}

// splitRDNs cuts dn at every unescaped "," or ";", the separators
// ldap.ParseDN accepts.
func splitRDNs(dn string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(dn); i++ {
		switch dn[i] {
		case '\\':
			i++
		case ',', ';':
			segments = append(segments, dn[start:i])
			start = i + 1
		}
	}
	return append(segments, dn[start:])
}

// trimRDN drops surrounding spaces but keeps an escaped trailing space.
func trimRDN(rdn string) string {
	rdn = strings.TrimLeft(rdn, " ")
	for strings.HasSuffix(rdn, " ") && !strings.HasSuffix(rdn, "\\ ") {
		rdn = rdn[:len(rdn)-1]
	}
	return rdn
}
