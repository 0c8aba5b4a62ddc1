// Package registry defines which tables are replicated and which column
// identifies a row for incremental loads.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TableSpec describes one replicated table.
type TableSpec struct {
	Name string `yaml:"name"`

	// IdentityColumn uniquely identifies a row. Empty means the table can
	// only be created, never incrementally appended.
	IdentityColumn string `yaml:"identity_column"`
}

// HasIdentity reports whether an identity column is configured.
func (t TableSpec) HasIdentity() bool {
	return t.IdentityColumn != ""
}

// Registry is the ordered, immutable set of tables in scope for a run.
type Registry struct {
	tables []TableSpec
}

// New validates specs and freezes their order.
func New(specs ...TableSpec) (*Registry, error) {
	seen := make(map[string]bool, len(specs))
	tables := make([]TableSpec, 0, len(specs))
	for i, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("table %d: name is required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("table %q listed more than once", s.Name)
		}
		seen[s.Name] = true
		tables = append(tables, s)
	}
	return &Registry{tables: tables}, nil
}

// Tables returns the specs in iteration order. The slice is a copy.
func (r *Registry) Tables() []TableSpec {
	out := make([]TableSpec, len(r.tables))
	copy(out, r.tables)
	return out
}

// Len returns the number of tables.
func (r *Registry) Len() int {
	return len(r.tables)
}

// Default returns the production table set.
func Default() *Registry {
	r, err := New(
		TableSpec{Name: "application", IdentityColumn: "id"},
		TableSpec{Name: "bitcoin_events", IdentityColumn: "id"},
		TableSpec{Name: "opportunity", IdentityColumn: "id"},
		TableSpec{Name: "opportunitycategory", IdentityColumn: "opportunity_id"},
		TableSpec{Name: "organization", IdentityColumn: "id"},
		TableSpec{Name: "organizationmember", IdentityColumn: "org_id"},
		TableSpec{Name: "organizationprompts", IdentityColumn: "id"},
		TableSpec{Name: "orginvite", IdentityColumn: "id"},
		TableSpec{Name: "outputtype", IdentityColumn: "id"},
		TableSpec{Name: "profile", IdentityColumn: "user_id"},
		TableSpec{Name: "profilelink", IdentityColumn: "id"},
		TableSpec{Name: "tools", IdentityColumn: "id"},
		TableSpec{Name: "user", IdentityColumn: "id"},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// file is the on-disk YAML layout.
type file struct {
	Tables []TableSpec `yaml:"tables"`
}

// Parse reads a YAML registry document.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse table registry: %w", err)
	}
	if len(f.Tables) == 0 {
		return nil, fmt.Errorf("table registry lists no tables")
	}
	return New(f.Tables...)
}

// LoadFile reads a YAML registry from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table registry %s: %w", path, err)
	}
	return Parse(data)
}
