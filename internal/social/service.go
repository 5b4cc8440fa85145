// Package social implements the optimistic list screens: feed likes,
// follows, collection ordering and the inbox.
package social

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/model"
)

// DefaultCacheSize bounds how many per-subject lists each cache keeps.
const DefaultCacheSize = 4096

// Service owns the per-subject lists. Least recently used lists are evicted
// and rebuilt from the gateway on next use.
type Service struct {
	gw      gateway.Gateway
	metrics *observability.Metrics
	logger  *zap.Logger

	mu          sync.Mutex
	feeds       *lru.Cache[string, *Feed]
	following   *lru.Cache[string, *Following]
	inboxes     *lru.Cache[string, *Inbox]
	collections *lru.Cache[string, *Collection]
}

// NewService creates a Service. A non-positive cacheSize uses
// DefaultCacheSize.
func NewService(gw gateway.Gateway, cacheSize int, metrics *observability.Metrics, logger *zap.Logger) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	s := &Service{gw: gw, metrics: metrics, logger: logger}
	var err error
	if s.feeds, err = lru.New[string, *Feed](cacheSize); err != nil {
		return nil, fmt.Errorf("social: feed cache: %w", err)
	}
	if s.following, err = lru.New[string, *Following](cacheSize); err != nil {
		return nil, fmt.Errorf("social: following cache: %w", err)
	}
	if s.inboxes, err = lru.New[string, *Inbox](cacheSize); err != nil {
		return nil, fmt.Errorf("social: inbox cache: %w", err)
	}
	if s.collections, err = lru.New[string, *Collection](cacheSize); err != nil {
		return nil, fmt.Errorf("social: collection cache: %w", err)
	}
	return s, nil
}

// Feed loads the posts matching q into subjectID's feed.
func (s *Service) Feed(ctx context.Context, subjectID string, q gateway.Query) ([]model.Post, error) {
	feed := getOrAdd(&s.mu, s.feeds, subjectID, func() *Feed {
		return NewFeed(s.gw, subjectID, s.metrics, s.logger)
	})
	return feed.Load(ctx, q)
}

// ToggleLike flips subjectID's like on postID.
func (s *Service) ToggleLike(ctx context.Context, subjectID, postID string) (model.Post, error) {
	feed := getOrAdd(&s.mu, s.feeds, subjectID, func() *Feed {
		return NewFeed(s.gw, subjectID, s.metrics, s.logger)
	})
	return feed.ToggleLike(ctx, postID)
}

// ToggleFollow flips whether subjectID follows profileID.
func (s *Service) ToggleFollow(ctx context.Context, subjectID, profileID string) (model.ProfileSummary, error) {
	f := getOrAdd(&s.mu, s.following, subjectID, func() *Following {
		return NewFollowing(s.gw, subjectID, s.metrics, s.logger)
	})
	return f.ToggleFollow(ctx, profileID)
}

// LoadCollection reloads collectionID from the gateway after checking that
// subjectID owns it.
func (s *Service) LoadCollection(ctx context.Context, subjectID, collectionID string) ([]model.CollectionEntry, error) {
	c, err := s.collection(ctx, subjectID, collectionID)
	if err != nil {
		return nil, err
	}
	return c.Load(ctx)
}

// RemoveFromCollection takes postID out of collectionID.
func (s *Service) RemoveFromCollection(ctx context.Context, subjectID, collectionID, postID string) ([]model.CollectionEntry, error) {
	c, err := s.loadedCollection(ctx, subjectID, collectionID)
	if err != nil {
		return nil, err
	}
	return c.Remove(ctx, postID)
}

// ReorderCollection sets the order of collectionID.
func (s *Service) ReorderCollection(ctx context.Context, subjectID, collectionID string, postIDs []string) ([]model.CollectionEntry, error) {
	c, err := s.loadedCollection(ctx, subjectID, collectionID)
	if err != nil {
		return nil, err
	}
	return c.Reorder(ctx, postIDs)
}

// Inbox returns subjectID's conversations, reloaded from the gateway.
func (s *Service) Inbox(ctx context.Context, subjectID string) ([]model.ConversationSummary, error) {
	in := getOrAdd(&s.mu, s.inboxes, subjectID, func() *Inbox {
		return NewInbox(s.gw, subjectID, s.metrics, s.logger)
	})
	return in.Load(ctx)
}

// MarkRead zeroes the unread count of conversationID for subjectID.
func (s *Service) MarkRead(ctx context.Context, subjectID, conversationID string) (model.ConversationSummary, error) {
	in := getOrAdd(&s.mu, s.inboxes, subjectID, func() *Inbox {
		return NewInbox(s.gw, subjectID, s.metrics, s.logger)
	})
	if len(in.Conversations()) == 0 {
		if _, err := in.Load(ctx); err != nil {
			return model.ConversationSummary{}, err
		}
	}
	return in.MarkRead(ctx, conversationID)
}

// Facets selects posts matching q and derives filter options from them.
func (s *Service) Facets(ctx context.Context, q gateway.Query) (model.Facets, error) {
	q.Columns = []string{"styles", "services", "body_parts"}
	rows, err := s.gw.Select(ctx, "posts", q)
	if err != nil {
		return model.Facets{}, err
	}
	posts := make([]model.Post, 0, len(rows))
	for _, r := range rows {
		posts = append(posts, postFromRow(r))
	}
	return ComputeFacets(posts), nil
}

func (s *Service) loadedCollection(ctx context.Context, subjectID, collectionID string) (*Collection, error) {
	c, err := s.collection(ctx, subjectID, collectionID)
	if err != nil {
		return nil, err
	}
	if len(c.Entries()) == 0 {
		if _, err := c.Load(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *Service) collection(ctx context.Context, subjectID, collectionID string) (*Collection, error) {
	key := subjectID + ":" + collectionID
	if c, ok := s.collections.Get(key); ok {
		return c, nil
	}

	rows, err := s.gw.Select(ctx, "collections", gateway.Query{
		Columns: []string{"id", "user_id"},
		Filter:  gateway.Filter{"id": collectionID},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("collection %q not found", collectionID))
	}
	if str(rows[0], "user_id") != subjectID {
		return nil, model.NewForbiddenError("collection belongs to another user")
	}

	return getOrAdd(&s.mu, s.collections, key, func() *Collection {
		return NewCollection(s.gw, collectionID, s.metrics, s.logger)
	}), nil
}

func getOrAdd[V any](mu *sync.Mutex, cache *lru.Cache[string, V], key string, create func() V) V {
	mu.Lock()
	defer mu.Unlock()
	if v, ok := cache.Get(key); ok {
		return v
	}
	v := create()
	cache.Add(key, v)
	return v
}
