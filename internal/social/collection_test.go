package social

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/model"
)

func collectionGateway() *gateway.MemoryGateway {
	gw := gateway.NewMemoryGateway()
	gw.Seed("collections", gateway.Row{"id": "c1", "user_id": "me"})
	gw.Seed("collection_posts",
		gateway.Row{"collection_id": "c1", "post_id": "A", "position": 0},
		gateway.Row{"collection_id": "c1", "post_id": "B", "position": 1},
		gateway.Row{"collection_id": "c1", "post_id": "C", "position": 2},
	)
	return gw
}

func postIDs(entries []model.CollectionEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PostID
	}
	return ids
}

func TestCollection_Reorder_thereAndBack(t *testing.T) {
	gw := collectionGateway()
	ctx := context.Background()
	c := NewCollection(gw, "c1", nil, zap.NewNop())
	if _, err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, order := range [][]string{{"C", "A", "B"}, {"A", "B", "C"}} {
		got, err := c.Reorder(ctx, order)
		if err != nil {
			t.Fatalf("Reorder(%v): %v", order, err)
		}
		if diff := cmp.Diff(order, postIDs(got)); diff != "" {
			t.Errorf("local order (-want +got):\n%s", diff)
		}

		// A fresh view reads the same order back from the gateway.
		fresh := NewCollection(gw, "c1", nil, zap.NewNop())
		stored, err := fresh.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if diff := cmp.Diff(order, postIDs(stored)); diff != "" {
			t.Errorf("read-back order (-want +got):\n%s", diff)
		}
		for i, e := range stored {
			if e.Position != i {
				t.Errorf("%s position = %d, want %d", e.PostID, e.Position, i)
			}
		}
	}
}

func TestCollection_Reorder_failureRestoresOrder(t *testing.T) {
	gw := collectionGateway()
	ctx := context.Background()
	c := NewCollection(gw, "c1", nil, zap.NewNop())
	_, _ = c.Load(ctx)

	gw.SetFault(func(op gateway.Op, _ string) error {
		if op == gateway.OpReorder {
			return errors.New("connection reset")
		}
		return nil
	})

	if _, err := c.Reorder(ctx, []string{"B", "C", "A"}); !model.HasCode(err, model.ErrRemoteError) {
		t.Fatalf("expected REMOTE_ERROR, got %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, postIDs(c.Entries())); diff != "" {
		t.Errorf("order not restored (-want +got):\n%s", diff)
	}
}

func TestCollection_Reorder_partialListRejected(t *testing.T) {
	gw := collectionGateway()
	ctx := context.Background()
	c := NewCollection(gw, "c1", nil, zap.NewNop())
	_, _ = c.Load(ctx)

	if _, err := c.Reorder(ctx, []string{"B", "A"}); !model.HasCode(err, model.ErrConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, postIDs(c.Entries())); diff != "" {
		t.Errorf("order not restored (-want +got):\n%s", diff)
	}
}

func TestCollection_Remove(t *testing.T) {
	gw := collectionGateway()
	ctx := context.Background()
	c := NewCollection(gw, "c1", nil, zap.NewNop())
	_, _ = c.Load(ctx)

	got, err := c.Remove(ctx, "B")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "C"}, postIDs(got)); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	if got[1].Position != 1 {
		t.Errorf("C position = %d, want 1", got[1].Position)
	}

	if _, err := c.Remove(ctx, "B"); !model.HasCode(err, model.ErrNotFound) {
		t.Errorf("second remove: expected NOT_FOUND, got %v", err)
	}
}

func TestCollection_Remove_rollback(t *testing.T) {
	gw := collectionGateway()
	ctx := context.Background()
	c := NewCollection(gw, "c1", nil, zap.NewNop())
	_, _ = c.Load(ctx)
	before := c.Entries()

	gw.SetFault(func(op gateway.Op, _ string) error {
		if op == gateway.OpDelete {
			return errors.New("boom")
		}
		return nil
	})

	if _, err := c.Remove(ctx, "A"); err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff(before, c.Entries()); diff != "" {
		t.Errorf("entries not restored (-want +got):\n%s", diff)
	}
}
