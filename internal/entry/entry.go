// Package entry holds a snapshot of one LDAP object and renders its
// attributes as file contents.
package entry

import (
	"strings"

	"github.com/ldapfs/ldapfs/pkg/errors"
)

// AllAttributes is the file name that renders every attribute of an object.
const AllAttributes = "=attributes"

// ErrNoSuchAttribute is returned when rendering an attribute the entry lacks.
var ErrNoSuchAttribute = errors.NewError(errors.ErrCodeNoSuchAttribute, "no such attribute").
	WithComponent("entry")

// Attribute is one attribute with its values in server order.
type Attribute struct {
	Name   string
	Values []string
}

// Entry is an immutable snapshot of one LDAP object.
type Entry struct {
	dn         string
	attributes []Attribute
}

// New copies attrs into a new Entry. The same attribute name may appear more
// than once; each occurrence is rendered on its own line.
func New(dn string, attrs ...Attribute) *Entry {
	e := &Entry{dn: dn, attributes: make([]Attribute, len(attrs))}
	for i, a := range attrs {
		e.attributes[i] = Attribute{Name: a.Name, Values: append([]string(nil), a.Values...)}
	}
	return e
}

// DN returns the distinguished name the entry was read from.
func (e *Entry) DN() string {
	return e.dn
}

// Names returns attribute names in server order. Attributes fetched without
// values are included.
func (e *Entry) Names() []string {
	names := make([]string, 0, len(e.attributes))
	for _, a := range e.attributes {
		names = append(names, a.Name)
	}
	return names
}

// Values returns the values of the first attribute called name that has any.
func (e *Entry) Values(name string) ([]string, bool) {
	a, ok := e.lookup(name)
	if !ok {
		return nil, false
	}
	return append([]string(nil), a.Values...), true
}

// Has reports whether key can be rendered.
func (e *Entry) Has(key string) bool {
	if key == AllAttributes {
		return true
	}
	_, ok := e.lookup(key)
	return ok
}

// lookup finds the first attribute named name that has values.
func (e *Entry) lookup(name string) (Attribute, bool) {
	for _, a := range e.attributes {
		if a.Name == name && len(a.Values) > 0 {
			return a, true
		}
	}
	return Attribute{}, false
}

// Render returns the file contents for key. AllAttributes yields one
// "name=v1,v2" line per attribute; any other key yields "v1,v2" for that
// attribute. Lines end with "\n". Values are not escaped.
func (e *Entry) Render(key string) (string, error) {
	var sb strings.Builder

	if key == AllAttributes {
		for _, a := range e.attributes {
			if len(a.Values) == 0 {
				continue
			}
			sb.WriteString(a.Name)
			sb.WriteByte('=')
			writeValues(&sb, a.Values)
		}
		return sb.String(), nil
	}

	a, ok := e.lookup(key)
	if !ok {
		return "", ErrNoSuchAttribute
	}
	writeValues(&sb, a.Values)
	return sb.String(), nil
}

// RenderedSize returns len(Render(key)) without building the string.
func (e *Entry) RenderedSize(key string) (int64, error) {
	if key == AllAttributes {
		var size int64
		for _, a := range e.attributes {
			if len(a.Values) == 0 {
				continue
			}
			size += int64(len(a.Name)) + 1 + valuesSize(a.Values)
		}
		return size, nil
	}

	a, ok := e.lookup(key)
	if !ok {
		return 0, ErrNoSuchAttribute
	}
	return valuesSize(a.Values), nil
}

func writeValues(sb *strings.Builder, values []string) {
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(v)
	}
	sb.WriteByte('\n')
}

// valuesSize counts each value plus one separator or trailing newline per value.
func valuesSize(values []string) int64 {
	size := int64(len(values))
	for _, v := range values {
		size += int64(len(v))
	}
	return size
}
