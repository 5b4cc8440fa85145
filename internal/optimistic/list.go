// Package optimistic applies list mutations locally before the remote call
// completes and rolls them back when it fails.
package optimistic

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/model"
)

// Item is an element of an optimistic list.
type Item[T any] interface {
	ItemID() string
	Clone() T
}

// Reconcile adjusts the list with the server's answer after a successful
// remote call. A nil Reconcile keeps the optimistic state.
type Reconcile[T any] func(items []T) []T

// Remote performs the remote half of a mutation.
type Remote[T any] func(ctx context.Context) (Reconcile[T], error)

// List holds items of one list screen. Every method is safe for concurrent
// use; a mutation holds the lock only while touching local state, never
// across the remote call.
type List[T Item[T]] struct {
	name    string
	metrics *observability.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	items    []T
	version  uint64
	inFlight map[string]struct{}
}

// New creates an empty list. name labels metrics and logs.
func New[T Item[T]](name string, metrics *observability.Metrics, logger *zap.Logger) *List[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &List[T]{
		name:     name,
		metrics:  metrics,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// Name returns the list name.
func (l *List[T]) Name() string {
	return l.name
}

// Replace sets the list contents, typically from an initial fetch.
func (l *List[T]) Replace(items []T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = cloneAll(items)
	l.version++
}

// Upsert replaces the item with the same id or appends it.
func (l *List[T]) Upsert(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := indexOf(l.items, item.ItemID()); i >= 0 {
		l.items[i] = item.Clone()
	} else {
		l.items = append(l.items, item.Clone())
	}
	l.version++
}

// Items returns a deep copy of the current items.
func (l *List[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneAll(l.items)
}

// Get returns a copy of the item with id.
func (l *List[T]) Get(id string) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := indexOf(l.items, id); i >= 0 {
		return l.items[i].Clone(), true
	}
	var zero T
	return zero, false
}

// Len returns the number of items.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// isInFlight reports whether a mutation keyed by id is pending.
func (l *List[T]) isInFlight(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inFlight[id]
	return ok
}

// Mutate runs one optimistic mutation keyed by id:
//  1. snapshot the list
//  2. apply the local change
//  3. run remote
//  4. on success apply the returned Reconcile
//  5. on failure restore the snapshot and return REMOTE_ERROR
//
// A second Mutate for the same id while the first is pending fails with
// MUTATION_IN_FLIGHT and leaves the list untouched. The returned items are
// the list after the mutation settles.
func (l *List[T]) Mutate(ctx context.Context, id string, apply func([]T) []T, remote Remote[T]) ([]T, error) {
	ctx, span := observability.StartSpan(ctx, "optimistic.mutate",
		observability.AttrList.String(l.name),
		observability.AttrItemID.String(id),
	)

	l.mu.Lock()
	if _, busy := l.inFlight[id]; busy {
		l.mu.Unlock()
		err := model.NewMutationInFlightError(id)
		l.metrics.RecordListMutation(l.name, "rejected")
		observability.EndSpanWithError(span, err)
		return nil, err
	}
	l.inFlight[id] = struct{}{}
	snapshot := cloneAll(l.items)
	l.items = apply(cloneAll(l.items))
	l.version++
	applied := l.version
	l.mu.Unlock()

	reconcile, err := remote(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, id)

	if err != nil {
		l.rollbackLocked(id, snapshot, applied)
		l.metrics.RecordListMutation(l.name, "rolled_back")
		l.logger.Warn("optimistic mutation rolled back",
			zap.String("list", l.name),
			zap.String("item_id", id),
			zap.Error(err),
		)
		observability.EndSpanWithError(span, err)
		return cloneAll(l.items), remoteError(l.name, err)
	}

	if reconcile != nil {
		l.items = reconcile(l.items)
		l.version++
	}
	l.metrics.RecordListMutation(l.name, "applied")
	observability.EndSpanWithError(span, nil)
	return cloneAll(l.items), nil
}

// rollbackLocked restores the snapshot. When other mutations have landed
// since this one applied, only the item keyed by id is reverted so their
// changes survive. Must be called with the lock held.
func (l *List[T]) rollbackLocked(id string, snapshot []T, applied uint64) {
	defer func() { l.version++ }()

	if l.version == applied {
		l.items = snapshot
		return
	}

	before := indexOf(snapshot, id)
	now := indexOf(l.items, id)
	switch {
	case before >= 0 && now >= 0:
		l.items[now] = snapshot[before]
	case before >= 0:
		at := min(before, len(l.items))
		l.items = slices.Insert(l.items, at, snapshot[before])
	case now >= 0:
		l.items = slices.Delete(l.items, now, now+1)
	default:
		// id keys the whole list (a reorder); nothing narrower to revert.
		l.logger.Warn("optimistic rollback overwrote concurrent changes",
			zap.String("list", l.name),
			zap.String("key", id),
		)
		l.items = snapshot
	}
}

// remoteError wraps infrastructure failures as REMOTE_ERROR. Requests the
// backend refused keep their own code.
func remoteError(list string, err error) error {
	if ee, ok := model.AsEnvelope(err); ok {
		switch ee.Code {
		case model.ErrBackendUnavailable, model.ErrBackendTimeout, model.ErrInternalError:
		default:
			return err
		}
	}
	return model.NewRemoteError(fmt.Sprintf("Could not update %s. Please try again.", list), err)
}

func indexOf[T Item[T]](items []T, id string) int {
	return slices.IndexFunc(items, func(it T) bool { return it.ItemID() == id })
}

func cloneAll[T Item[T]](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
