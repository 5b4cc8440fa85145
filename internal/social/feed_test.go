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

func seededGateway() *gateway.MemoryGateway {
	gw := gateway.NewMemoryGateway()
	gw.Seed("posts",
		gateway.Row{"id": "A", "user_id": "artist", "like_count": 1, "created_at": "2026-01-03T00:00:00Z", "styles": []string{"blackwork"}},
		gateway.Row{"id": "B", "user_id": "artist", "like_count": 0, "created_at": "2026-01-02T00:00:00Z", "styles": []string{"fineline", "blackwork"}},
		gateway.Row{"id": "C", "user_id": "artist", "like_count": 2, "created_at": "2026-01-01T00:00:00Z", "body_parts": []string{"arm"}},
	)
	gw.Seed("likes",
		gateway.Row{"id": "l1", "user_id": "other", "post_id": "A"},
		gateway.Row{"id": "l2", "user_id": "me", "post_id": "C"},
		gateway.Row{"id": "l3", "user_id": "other", "post_id": "C"},
	)
	return gw
}

func loadFeed(t *testing.T, gw gateway.Gateway) *Feed {
	t.Helper()
	f := NewFeed(gw, "me", nil, zap.NewNop())
	if _, err := f.Load(context.Background(), gateway.Query{
		Order: []gateway.OrderBy{{Column: "created_at", Desc: true}},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return f
}

func TestFeed_Load_marksLiked(t *testing.T) {
	f := loadFeed(t, seededGateway())

	var ids []string
	liked := map[string]bool{}
	for _, p := range f.list.Items() {
		ids = append(ids, p.ID)
		liked[p.ID] = p.IsLiked
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if liked["A"] || liked["B"] || !liked["C"] {
		t.Errorf("liked = %v, want only C", liked)
	}
}

func TestFeed_ToggleLike_likeAndUnlike(t *testing.T) {
	gw := seededGateway()
	f := loadFeed(t, gw)
	ctx := context.Background()

	p, err := f.ToggleLike(ctx, "A")
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if !p.IsLiked || p.LikeCount != 2 {
		t.Errorf("after like = %+v, want liked with 2 (server count)", p)
	}

	p, err = f.ToggleLike(ctx, "A")
	if err != nil {
		t.Fatalf("unlike: %v", err)
	}
	if p.IsLiked || p.LikeCount != 1 {
		t.Errorf("after unlike = %+v, want unliked with 1", p)
	}

	rows, _ := gw.Select(ctx, "likes", gateway.Query{Filter: gateway.Filter{"user_id": "me", "post_id": "A"}})
	if len(rows) != 0 {
		t.Errorf("like row left behind: %v", rows)
	}
}

func TestFeed_ToggleLike_rollbackRestoresExactList(t *testing.T) {
	gw := seededGateway()
	f := loadFeed(t, gw)
	before := f.list.Items()

	gw.SetFault(func(op gateway.Op, relation string) error {
		if relation == "likes" && op != gateway.OpSelect {
			return errors.New("network down")
		}
		return nil
	})

	_, err := f.ToggleLike(context.Background(), "B")
	if !model.HasCode(err, model.ErrRemoteError) {
		t.Fatalf("expected REMOTE_ERROR, got %v", err)
	}
	if diff := cmp.Diff(before, f.list.Items()); diff != "" {
		t.Errorf("feed not restored (-want +got):\n%s", diff)
	}
}

func TestFeed_ToggleLike_unloadedPost(t *testing.T) {
	gw := seededGateway()
	f := NewFeed(gw, "me", nil, zap.NewNop())

	p, err := f.ToggleLike(context.Background(), "C")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.IsLiked {
		t.Error("C was liked before, toggle should unlike it")
	}

	if _, err := f.ToggleLike(context.Background(), "missing"); !model.HasCode(err, model.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}
