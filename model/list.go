package model

import "time"

// Post is a portfolio entry shown in feeds and collections.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Caption   string    `json:"caption,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	Styles    []string  `json:"styles,omitempty"`
	Services  []string  `json:"services,omitempty"`
	BodyParts []string  `json:"body_parts,omitempty"`
	IsLiked   bool      `json:"is_liked"`
	LikeCount int       `json:"like_count"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemID implements optimistic.Item.
func (p Post) ItemID() string { return p.ID }

// Clone returns a copy that shares no slices with p.
func (p Post) Clone() Post {
	p.Styles = append([]string(nil), p.Styles...)
	p.Services = append([]string(nil), p.Services...)
	p.BodyParts = append([]string(nil), p.BodyParts...)
	return p
}

// ProfileSummary is an artist or client shown in follow lists.
type ProfileSummary struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name,omitempty"`
	IsFollowing   bool   `json:"is_following"`
	FollowerCount int    `json:"follower_count"`
}

// ItemID implements optimistic.Item.
func (p ProfileSummary) ItemID() string { return p.ID }

// Clone returns a copy of p.
func (p ProfileSummary) Clone() ProfileSummary { return p }

// CollectionEntry is a post's membership in a collection.
type CollectionEntry struct {
	CollectionID string    `json:"collection_id"`
	PostID       string    `json:"post_id"`
	Position     int       `json:"position"`
	AddedAt      time.Time `json:"added_at"`
}

// ItemID implements optimistic.Item.
func (c CollectionEntry) ItemID() string { return c.PostID }

// Clone returns a copy of c.
func (c CollectionEntry) Clone() CollectionEntry { return c }

// ConversationSummary is one row of the chat inbox.
type ConversationSummary struct {
	ID          string    `json:"id"`
	PeerID      string    `json:"peer_id"`
	LastMessage string    `json:"last_message,omitempty"`
	UnreadCount int       `json:"unread_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ItemID implements optimistic.Item.
func (c ConversationSummary) ItemID() string { return c.ID }

// Clone returns a copy of c.
func (c ConversationSummary) Clone() ConversationSummary { return c }

// Facet is a derived filter option computed from a result set.
type Facet struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Facets groups derived filter options by dimension.
type Facets struct {
	Styles    []Facet `json:"styles"`
	Services  []Facet `json:"services"`
	BodyParts []Facet `json:"body_parts"`
}
