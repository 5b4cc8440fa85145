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

// Inbox is one subject's conversation list, newest first.
type Inbox struct {
	gw        gateway.Gateway
	subjectID string
	list      *optimistic.List[model.ConversationSummary]
}

// NewInbox creates an empty inbox for subjectID.
func NewInbox(gw gateway.Gateway, subjectID string, metrics *observability.Metrics, logger *zap.Logger) *Inbox {
	return &Inbox{
		gw:        gw,
		subjectID: subjectID,
		list:      optimistic.New[model.ConversationSummary]("inbox", metrics, logger),
	}
}

// Load reads the subject's conversations.
func (in *Inbox) Load(ctx context.Context) ([]model.ConversationSummary, error) {
	rows, err := in.gw.Select(ctx, "conversations", gateway.Query{
		Filter: gateway.Filter{"user_id": in.subjectID},
		Order:  []gateway.OrderBy{{Column: "updated_at", Desc: true}},
	})
	if err != nil {
		return nil, err
	}
	convs := make([]model.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		convs = append(convs, conversationFromRow(r))
	}
	in.list.Replace(convs)
	return in.list.Items(), nil
}

// Conversations returns the current inbox.
func (in *Inbox) Conversations() []model.ConversationSummary {
	return in.list.Items()
}

// MarkRead zeroes the unread count of conversationID.
func (in *Inbox) MarkRead(ctx context.Context, conversationID string) (model.ConversationSummary, error) {
	if _, ok := in.list.Get(conversationID); !ok {
		return model.ConversationSummary{}, model.NewNotFoundError(fmt.Sprintf("conversation %q not found", conversationID))
	}
	_, err := in.list.Mutate(ctx, conversationID,
		func(items []model.ConversationSummary) []model.ConversationSummary {
			for i := range items {
				if items[i].ID == conversationID {
					items[i].UnreadCount = 0
				}
			}
			return items
		},
		func(ctx context.Context) (optimistic.Reconcile[model.ConversationSummary], error) {
			_, err := in.gw.Update(ctx, "conversations",
				gateway.Row{"unread_count": 0},
				gateway.Filter{"id": conversationID, "user_id": in.subjectID})
			return nil, err
		},
	)
	if err != nil {
		return model.ConversationSummary{}, err
	}
	c, _ := in.list.Get(conversationID)
	return c, nil
}
