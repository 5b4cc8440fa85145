package social

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/internal/optimistic"
	"github.com/pitabwire/inkline/model"
)

const collectionPosts = "collection_posts"

// Collection is the ordered membership of posts in one collection.
type Collection struct {
	gw   gateway.Gateway
	id   string
	list *optimistic.List[model.CollectionEntry]
}

// NewCollection creates an empty collection view.
func NewCollection(gw gateway.Gateway, collectionID string, metrics *observability.Metrics, logger *zap.Logger) *Collection {
	return &Collection{
		gw:   gw,
		id:   collectionID,
		list: optimistic.New[model.CollectionEntry]("collection", metrics, logger),
	}
}

// ID returns the collection id.
func (c *Collection) ID() string {
	return c.id
}

// Load reads the entries ordered by position.
func (c *Collection) Load(ctx context.Context) ([]model.CollectionEntry, error) {
	entries, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.list.Replace(entries)
	return c.list.Items(), nil
}

// Entries returns the current entries.
func (c *Collection) Entries() []model.CollectionEntry {
	return c.list.Items()
}

// Remove takes postID out of the collection and closes the position gap.
func (c *Collection) Remove(ctx context.Context, postID string) ([]model.CollectionEntry, error) {
	if _, ok := c.list.Get(postID); !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("post %q is not in collection %q", postID, c.id))
	}
	return c.list.Mutate(ctx, postID,
		func(items []model.CollectionEntry) []model.CollectionEntry {
			items = slices.DeleteFunc(items, func(e model.CollectionEntry) bool { return e.PostID == postID })
			renumber(items)
			return items
		},
		func(ctx context.Context) (optimistic.Reconcile[model.CollectionEntry], error) {
			n, err := c.gw.Delete(ctx, collectionPosts, gateway.Filter{"collection_id": c.id, "post_id": postID})
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, model.NewNotFoundError(fmt.Sprintf("post %q is not in collection %q", postID, c.id))
			}
			return nil, nil
		},
	)
}

// Reorder sets the collection order to postIDs, which must name every entry
// exactly once. Positions are rewritten in one remote transaction and the
// result is read back.
func (c *Collection) Reorder(ctx context.Context, postIDs []string) ([]model.CollectionEntry, error) {
	return c.list.Mutate(ctx, "order:"+c.id,
		func(items []model.CollectionEntry) []model.CollectionEntry {
			rank := make(map[string]int, len(postIDs))
			for i, id := range postIDs {
				rank[id] = i
			}
			slices.SortStableFunc(items, func(a, b model.CollectionEntry) int {
				ra, oka := rank[a.PostID]
				rb, okb := rank[b.PostID]
				switch {
				case oka && okb:
					return ra - rb
				case oka:
					return -1
				case okb:
					return 1
				}
				return 0
			})
			renumber(items)
			return items
		},
		func(ctx context.Context) (optimistic.Reconcile[model.CollectionEntry], error) {
			err := c.gw.Reorder(ctx, gateway.Reorder{
				Relation:  collectionPosts,
				Scope:     gateway.Filter{"collection_id": c.id},
				KeyColumn: "post_id",
				Keys:      postIDs,
			})
			if err != nil {
				return nil, err
			}
			stored, err := c.fetch(ctx)
			if err != nil {
				return nil, nil
			}
			return func([]model.CollectionEntry) []model.CollectionEntry { return stored }, nil
		},
	)
}

func (c *Collection) fetch(ctx context.Context) ([]model.CollectionEntry, error) {
	rows, err := c.gw.Select(ctx, collectionPosts, gateway.Query{
		Filter: gateway.Filter{"collection_id": c.id},
		Order:  []gateway.OrderBy{{Column: gateway.PositionColumn}, {Column: "created_at"}},
	})
	if err != nil {
		return nil, err
	}
	entries := make([]model.CollectionEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, entryFromRow(r))
	}
	return entries, nil
}

func renumber(items []model.CollectionEntry) {
	for i := range items {
		items[i].Position = i
	}
}
