package social

import (
	"fmt"
	"time"

	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/model"
)

func str(r gateway.Row, col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func num(r gateway.Row, col string) int {
	switch v := r[col].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func strs(r gateway.Row, col string) []string {
	switch v := r[col].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func ts(r gateway.Row, col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	}
	return time.Time{}
}

func postFromRow(r gateway.Row) model.Post {
	return model.Post{
		ID:        str(r, "id"),
		AuthorID:  str(r, "user_id"),
		Caption:   str(r, "caption"),
		MediaURL:  str(r, "image_url"),
		Styles:    strs(r, "styles"),
		Services:  strs(r, "services"),
		BodyParts: strs(r, "body_parts"),
		LikeCount: num(r, "like_count"),
		CreatedAt: ts(r, "created_at"),
	}
}

func profileFromRow(r gateway.Row) model.ProfileSummary {
	return model.ProfileSummary{
		ID:            str(r, "id"),
		Username:      str(r, "username"),
		DisplayName:   str(r, "display_name"),
		FollowerCount: num(r, "follower_count"),
	}
}

func entryFromRow(r gateway.Row) model.CollectionEntry {
	return model.CollectionEntry{
		CollectionID: str(r, "collection_id"),
		PostID:       str(r, "post_id"),
		Position:     num(r, gateway.PositionColumn),
		AddedAt:      ts(r, "created_at"),
	}
}

func conversationFromRow(r gateway.Row) model.ConversationSummary {
	return model.ConversationSummary{
		ID:          str(r, "id"),
		PeerID:      str(r, "peer_id"),
		LastMessage: str(r, "last_message"),
		UnreadCount: num(r, "unread_count"),
		UpdatedAt:   ts(r, "updated_at"),
	}
}
