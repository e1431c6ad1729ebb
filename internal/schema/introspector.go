// Package schema reads the live database catalog so callers can act on the
// tables and columns that actually exist in a given environment.
package schema

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// Set is a set of table or column names
type Set map[string]struct{}

// NewSet builds a set from names
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set. Lookups are case-insensitive
// because catalogs fold unquoted identifiers.
func (s Set) Has(name string) bool {
	if _, ok := s[name]; ok {
		return true
	}
	for n := range s {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// Sorted returns the names in lexical order
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ForeignKey describes one column of a foreign-key constraint
type ForeignKey struct {
	DependentTable   string
	DependentColumn  string
	ReferencedTable  string
	ReferencedColumn string
}

// Introspector answers questions about the current schema. Every call hits the
// catalog; nothing is cached. A missing table or column yields an empty result.
type Introspector interface {
	ExistingTables(ctx context.Context, candidates ...string) (Set, error)
	Tables(ctx context.Context) (Set, error)
	Columns(ctx context.Context, table string) (Set, error)
	ForeignKeysReferencing(ctx context.Context, table string) ([]ForeignKey, error)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to use as a table or column name
func ValidIdentifier(name string) bool {
	return len(name) <= 63 && identifierPattern.MatchString(name)
}

// dialect holds the catalog queries for one database engine
type dialect struct {
	name        string
	tablesSQL   string
	columnsSQL  string
	foreignKeys string
	deferChecks string
}

// Catalog implements Introspector against a gorm connection
type Catalog struct {
	db      *gorm.DB
	dialect dialect
}

// NewCatalog selects catalog queries for the connection's dialect
func NewCatalog(db *gorm.DB) (*Catalog, error) {
	name := db.Dialector.Name()
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("schema introspection not supported for dialect %q", name)
	}
	return &Catalog{db: db, dialect: d}, nil
}

// Dialect returns the database engine name
func (c *Catalog) Dialect() string {
	return c.dialect.name
}

// Tables lists every user table in the current schema
func (c *Catalog) Tables(ctx context.Context) (Set, error) {
	var names []string
	if err := c.db.WithContext(ctx).Raw(c.dialect.tablesSQL).Scan(&names).Error; err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return NewSet(names...), nil
}

// ExistingTables returns the subset of candidates present in the schema
func (c *Catalog) ExistingTables(ctx context.Context, candidates ...string) (Set, error) {
	all, err := c.Tables(ctx)
	if err != nil {
		return nil, err
	}
	found := make(Set, len(candidates))
	for _, name := range candidates {
		if all.Has(name) {
			found[name] = struct{}{}
		}
	}
	return found, nil
}

// Columns lists the columns of table; an unknown table yields an empty set
func (c *Catalog) Columns(ctx context.Context, table string) (Set, error) {
	if !ValidIdentifier(table) {
		return Set{}, nil
	}
	var names []string
	if err := c.db.WithContext(ctx).Raw(c.dialect.columnsSQL, table).Scan(&names).Error; err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	return NewSet(names...), nil
}

// ForeignKeysReferencing lists foreign keys whose target is table
func (c *Catalog) ForeignKeysReferencing(ctx context.Context, table string) ([]ForeignKey, error) {
	if !ValidIdentifier(table) {
		return nil, nil
	}
	var fks []ForeignKey
	if err := c.db.WithContext(ctx).Raw(c.dialect.foreignKeys, table).Scan(&fks).Error; err != nil {
		return nil, fmt.Errorf("failed to list foreign keys referencing %s: %w", table, err)
	}
	return fks, nil
}

// DeferConstraintsSQL returns the statement that postpones foreign-key checks
// to commit time for the current transaction.
func DeferConstraintsSQL(db *gorm.DB) (string, bool) {
	d, ok := dialects[db.Dialector.Name()]
	if !ok || d.deferChecks == "" {
		return "", false
	}
	return d.deferChecks, true
}
