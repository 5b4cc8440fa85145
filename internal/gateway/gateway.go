// Package gateway is the boundary to the hosted database: row-level select,
// insert, update, delete and reorder against named relations.
package gateway

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/pitabwire/inkline/model"
)

// Row is one record of a relation keyed by column name.
type Row = map[string]any

// Filter is a conjunction of column equality conditions.
type Filter map[string]any

// OrderBy sorts a selection by one column.
type OrderBy struct {
	Column string
	Desc   bool
}

// Query describes a selection. Empty Columns selects every column; zero
// Limit means no limit.
type Query struct {
	Columns []string
	Filter  Filter
	Order   []OrderBy
	Limit   int
}

// Reorder rewrites the position column of every row in Scope so that the row
// whose KeyColumn equals Keys[i] gets position i. Keys must name every row in
// Scope exactly once.
type Reorder struct {
	Relation  string
	Scope     Filter
	KeyColumn string
	Keys      []string
}

// PositionColumn is the integer ordering column written by Reorder.
const PositionColumn = "position"

// Gateway is the remote data boundary. Implementations must be safe for
// concurrent use.
type Gateway interface {
	Select(ctx context.Context, relation string, q Query) ([]Row, error)
	Insert(ctx context.Context, relation string, rows []Row) ([]Row, error)
	Update(ctx context.Context, relation string, patch Row, filter Filter) (int64, error)
	Delete(ctx context.Context, relation string, filter Filter) (int64, error)
	Reorder(ctx context.Context, r Reorder) error
}

// Relations is the allow-list of relations the BFF may touch.
var Relations = map[string]bool{
	"posts":                true,
	"collections":          true,
	"collection_posts":     true,
	"tattoo_styles":        true,
	"services":             true,
	"body_parts":           true,
	"user_subscriptions":   true,
	"follows":              true,
	"likes":                true,
	"profiles":             true,
	"studios":              true,
	"conversations":        true,
	"artist_registrations": true,
	"user_registrations":   true,
	"studio_setups":        true,
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// CheckRelation returns a BAD_REQUEST error unless relation is allow-listed.
func CheckRelation(relation string) error {
	if !Relations[relation] {
		return model.NewBadRequestError(fmt.Sprintf("unknown relation %q", relation))
	}
	return nil
}

// checkColumns rejects column names that are not plain lowercase identifiers.
func checkColumns(cols ...string) error {
	for _, c := range cols {
		if !identifierPattern.MatchString(c) {
			return model.NewBadRequestError(fmt.Sprintf("invalid column name %q", c))
		}
	}
	return nil
}

// validateReorder checks a Reorder request independent of storage.
func validateReorder(r Reorder) error {
	if err := CheckRelation(r.Relation); err != nil {
		return err
	}
	if err := checkColumns(r.KeyColumn); err != nil {
		return err
	}
	if err := checkColumns(sortedKeys(r.Scope)...); err != nil {
		return err
	}
	seen := make(map[string]bool, len(r.Keys))
	for _, k := range r.Keys {
		if seen[k] {
			return model.NewBadRequestError(fmt.Sprintf("duplicate key %q in reorder", k))
		}
		seen[k] = true
	}
	return nil
}

// requireFilter rejects unfiltered bulk update and delete.
func requireFilter(op string, f Filter) error {
	if len(f) == 0 {
		return model.NewBadRequestError(op + " requires a filter")
	}
	return nil
}

// sortedKeys returns map keys in a stable order so generated SQL and
// argument lists are deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
