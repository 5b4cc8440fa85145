package gateway

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/inkline/model"
)

// Op names a gateway operation.
type Op string

// Gateway operations.
const (
	OpSelect  Op = "select"
	OpInsert  Op = "insert"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpReorder Op = "reorder"
)

// FaultFunc is consulted before every MemoryGateway call; a non-nil error is
// returned instead of running the call.
type FaultFunc func(op Op, relation string) error

// MemoryGateway is an in-memory Gateway. Suitable for tests and local
// development.
type MemoryGateway struct {
	mu        sync.RWMutex
	relations map[string][]Row
	fault     FaultFunc
	now       func() time.Time
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		relations: make(map[string][]Row),
		now:       time.Now,
	}
}

// SetFault installs fn as the fault hook. Pass nil to clear it.
func (g *MemoryGateway) SetFault(fn FaultFunc) {
	g.mu.Lock()
	g.fault = fn
	g.mu.Unlock()
}

// Seed inserts rows verbatim, without generating ids or timestamps.
func (g *MemoryGateway) Seed(relation string, rows ...Row) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range rows {
		g.relations[relation] = append(g.relations[relation], copyRow(r))
	}
}

func (g *MemoryGateway) checkFault(op Op, relation string) error {
	g.mu.RLock()
	fault := g.fault
	g.mu.RUnlock()
	if fault != nil {
		return fault(op, relation)
	}
	return nil
}

// Select returns copies of the matching rows.
func (g *MemoryGateway) Select(ctx context.Context, relation string, q Query) ([]Row, error) {
	if err := g.precheck(ctx, OpSelect, relation); err != nil {
		return nil, err
	}

	g.mu.RLock()
	var out []Row
	for _, r := range g.relations[relation] {
		if matches(r, q.Filter) {
			out = append(out, copyRow(r))
		}
	}
	g.mu.RUnlock()

	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := compareValues(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	if len(q.Columns) == 0 {
		return out, nil
	}
	result := make([]Row, 0, len(out))
	for _, r := range out {
		result = append(result, project(r, q.Columns))
	}
	return result, nil
}

// Insert appends rows, generating an id and created_at when absent.
func (g *MemoryGateway) Insert(ctx context.Context, relation string, rows []Row) ([]Row, error) {
	if err := g.precheck(ctx, OpInsert, relation); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	inserted := make([]Row, 0, len(rows))
	for _, r := range rows {
		stored := copyRow(r)
		if _, ok := stored["id"]; !ok {
			stored["id"] = uuid.NewString()
		}
		if _, ok := stored["created_at"]; !ok {
			stored["created_at"] = g.now().UTC()
		}
		g.relations[relation] = append(g.relations[relation], stored)
		inserted = append(inserted, copyRow(stored))
	}
	return inserted, nil
}

// Update applies patch to every matching row.
func (g *MemoryGateway) Update(ctx context.Context, relation string, patch Row, filter Filter) (int64, error) {
	if err := requireFilter("update", filter); err != nil {
		return 0, err
	}
	if err := g.precheck(ctx, OpUpdate, relation); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var n int64
	for _, r := range g.relations[relation] {
		if !matches(r, filter) {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		n++
	}
	return n, nil
}

// Delete removes every matching row.
func (g *MemoryGateway) Delete(ctx context.Context, relation string, filter Filter) (int64, error) {
	if err := requireFilter("delete", filter); err != nil {
		return 0, err
	}
	if err := g.precheck(ctx, OpDelete, relation); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rows := g.relations[relation]
	kept := rows[:0]
	var n int64
	for _, r := range rows {
		if matches(r, filter) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	g.relations[relation] = kept
	return n, nil
}

// Reorder rewrites positions atomically: either every row is renumbered or
// none is.
func (g *MemoryGateway) Reorder(ctx context.Context, r Reorder) error {
	if err := validateReorder(r); err != nil {
		return err
	}
	if err := g.precheck(ctx, OpReorder, r.Relation); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	byKey := make(map[string]Row)
	for _, row := range g.relations[r.Relation] {
		if matches(row, r.Scope) {
			byKey[fmt.Sprint(row[r.KeyColumn])] = row
		}
	}
	if len(byKey) != len(r.Keys) {
		return model.NewConflictError(fmt.Sprintf(
			"reorder lists %d keys but %s holds %d rows in scope", len(r.Keys), r.Relation, len(byKey)))
	}
	for _, k := range r.Keys {
		if _, ok := byKey[k]; !ok {
			return model.NewNotFoundError(fmt.Sprintf("%s %q not found", r.KeyColumn, k))
		}
	}
	for i, k := range r.Keys {
		byKey[k][PositionColumn] = i
	}
	return nil
}

// HealthCheck always succeeds.
func (g *MemoryGateway) HealthCheck(_ context.Context) error {
	return nil
}

func (g *MemoryGateway) precheck(ctx context.Context, op Op, relation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckRelation(relation); err != nil {
		return err
	}
	return g.checkFault(op, relation)
}

func matches(r Row, f Filter) bool {
	for k, want := range f {
		got, ok := r[k]
		if want == nil {
			if got != nil {
				return false
			}
			continue
		}
		if !ok || !equalValues(got, want) {
			return false
		}
	}
	return true
}

func project(r Row, cols []string) Row {
	out := make(Row, len(cols))
	for _, c := range cols {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// toFloat reports v as a float64 when it is any Go numeric type.
func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// equalValues compares numbers by value regardless of their Go type, so a
// JSON float64 matches a stored int.
func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders numbers, strings, booleans and times; nil sorts first.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
