package social

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/internal/optimistic"
	"github.com/pitabwire/inkline/model"
)

// Feed is one subject's list of posts with their like state.
type Feed struct {
	gw        gateway.Gateway
	subjectID string
	list      *optimistic.List[model.Post]
}

// NewFeed creates an empty feed for subjectID.
func NewFeed(gw gateway.Gateway, subjectID string, metrics *observability.Metrics, logger *zap.Logger) *Feed {
	return &Feed{
		gw:        gw,
		subjectID: subjectID,
		list:      optimistic.New[model.Post]("feed", metrics, logger),
	}
}

// Load replaces the feed with the posts matching q and marks the ones the
// subject has liked.
func (f *Feed) Load(ctx context.Context, q gateway.Query) ([]model.Post, error) {
	rows, err := f.gw.Select(ctx, "posts", q)
	if err != nil {
		return nil, err
	}
	liked, err := f.likedSet(ctx)
	if err != nil {
		return nil, err
	}
	posts := make([]model.Post, 0, len(rows))
	for _, r := range rows {
		p := postFromRow(r)
		p.IsLiked = liked[p.ID]
		posts = append(posts, p)
	}
	f.list.Replace(posts)
	return f.list.Items(), nil
}

// ToggleLike flips the subject's like on postID. The count changes at once
// and is reconciled with the server's like count on success.
func (f *Feed) ToggleLike(ctx context.Context, postID string) (model.Post, error) {
	if err := f.ensure(ctx, postID); err != nil {
		return model.Post{}, err
	}
	current, _ := f.list.Get(postID)
	like := !current.IsLiked
	key := gateway.Filter{"user_id": f.subjectID, "post_id": postID}

	_, err := f.list.Mutate(ctx, postID,
		func(items []model.Post) []model.Post {
			for i := range items {
				if items[i].ID == postID {
					items[i].IsLiked = like
					items[i].LikeCount = max(items[i].LikeCount+delta(like), 0)
				}
			}
			return items
		},
		func(ctx context.Context) (optimistic.Reconcile[model.Post], error) {
			if like {
				if _, err := f.gw.Insert(ctx, "likes", []gateway.Row{{"user_id": f.subjectID, "post_id": postID}}); err != nil {
					return nil, err
				}
			} else if _, err := f.gw.Delete(ctx, "likes", key); err != nil {
				return nil, err
			}
			n, err := count(ctx, f.gw, "likes", gateway.Filter{"post_id": postID})
			if err != nil {
				// The toggle landed; keep the optimistic count.
				return nil, nil
			}
			return func(items []model.Post) []model.Post {
				for i := range items {
					if items[i].ID == postID {
						items[i].LikeCount = n
					}
				}
				return items
			}, nil
		},
	)
	if err != nil {
		return model.Post{}, err
	}
	p, _ := f.list.Get(postID)
	return p, nil
}

// ensure fetches postID into the feed when it is not loaded yet.
func (f *Feed) ensure(ctx context.Context, postID string) error {
	if _, ok := f.list.Get(postID); ok {
		return nil
	}
	rows, err := f.gw.Select(ctx, "posts", gateway.Query{Filter: gateway.Filter{"id": postID}, Limit: 1})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return model.NewNotFoundError(fmt.Sprintf("post %q not found", postID))
	}
	p := postFromRow(rows[0])
	liked, err := count(ctx, f.gw, "likes", gateway.Filter{"user_id": f.subjectID, "post_id": postID})
	if err != nil {
		return err
	}
	p.IsLiked = liked > 0
	f.list.Upsert(p)
	return nil
}

func (f *Feed) likedSet(ctx context.Context) (map[string]bool, error) {
	rows, err := f.gw.Select(ctx, "likes", gateway.Query{
		Columns: []string{"post_id"},
		Filter:  gateway.Filter{"user_id": f.subjectID},
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[str(r, "post_id")] = true
	}
	return out, nil
}

func delta(on bool) int {
	if on {
		return 1
	}
	return -1
}

func count(ctx context.Context, gw gateway.Gateway, relation string, f gateway.Filter) (int, error) {
	rows, err := gw.Select(ctx, relation, gateway.Query{Columns: []string{"id"}, Filter: f})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
