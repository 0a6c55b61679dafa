// Package registry holds the static catalogue of known tables and the
// metadata used when one of them has to be provisioned.
package registry

import (
	"strings"

	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// Entry is one logical table in the catalogue.
type Entry struct {
	Suffix string `yaml:"suffix" json:"suffix" mapstructure:"suffix"`
	Notes  string `yaml:"notes" json:"notes" mapstructure:"notes"`
	Code   string `yaml:"code" json:"code" mapstructure:"code"`
}

// TableDescriptor is the provisioning metadata for a physical table.
type TableDescriptor struct {
	Name  string
	Notes string
	Code  string
}

// Comment composes the table comment, prefixing the provisioning code.
func (d TableDescriptor) Comment() string {
	return strings.TrimSpace(d.Code + " " + d.Notes)
}

// Registry maps physical table names to descriptors.
type Registry struct {
	prefix  string
	order   []string
	entries map[string]TableDescriptor
}

// New builds a registry. Physical names are prefix + suffix.
func New(prefix string, entries []Entry) (*Registry, error) {
	r := &Registry{
		prefix:  prefix,
		entries: make(map[string]TableDescriptor, len(entries)),
	}
	for i, e := range entries {
		if e.Suffix == "" {
			return nil, sinkerrors.Newf(sinkerrors.ErrorTypeConfig, "table entry %d has an empty suffix", i)
		}
		name := prefix + e.Suffix
		if _, dup := r.entries[name]; dup {
			return nil, sinkerrors.Newf(sinkerrors.ErrorTypeConfig, "table %q registered twice", name)
		}
		r.entries[name] = TableDescriptor{Name: name, Notes: e.Notes, Code: e.Code}
		r.order = append(r.order, name)
	}
	return r, nil
}

// Empty returns a registry with no entries.
func Empty() *Registry {
	r, _ := New("", nil)
	return r
}

// Prefix returns the configured table prefix.
func (r *Registry) Prefix() string { return r.prefix }

// Lookup returns the descriptor for a physical table name. A miss means the
// table is provisioned bare.
func (r *Registry) Lookup(name string) (TableDescriptor, bool) {
	d, ok := r.entries[name]
	return d, ok
}

// Describe returns the registered descriptor, or a bare one documented with
// fallbackNotes.
func (r *Registry) Describe(name, fallbackNotes string) TableDescriptor {
	if d, ok := r.Lookup(name); ok {
		return d
	}
	return TableDescriptor{Name: name, Notes: fallbackNotes}
}

// Tables lists descriptors in declaration order.
func (r *Registry) Tables() []TableDescriptor {
	out := make([]TableDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}
