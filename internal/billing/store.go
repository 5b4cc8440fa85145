package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/model"
)

// SubscriptionStore persists subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub Subscription) error
	// Get returns a NOT_FOUND error for unknown ids.
	Get(ctx context.Context, id string) (Subscription, error)
	SetAutoRenew(ctx context.Context, id string, autoRenew bool) error
}

const subscriptions = "user_subscriptions"

// GatewayStore keeps subscriptions in the user_subscriptions relation.
type GatewayStore struct {
	gw gateway.Gateway
}

// NewGatewayStore creates a store over gw.
func NewGatewayStore(gw gateway.Gateway) *GatewayStore {
	return &GatewayStore{gw: gw}
}

// Create implements SubscriptionStore.
func (s *GatewayStore) Create(ctx context.Context, sub Subscription) error {
	_, err := s.gw.Insert(ctx, subscriptions, []gateway.Row{{
		"id":                  sub.ID,
		"user_id":             sub.UserID,
		"plan_type":           sub.PlanType,
		"billing_cycle":       sub.Cycle,
		"price_id":            sub.PriceID,
		"status":              sub.Status,
		"auto_renew":          sub.AutoRenew,
		"checkout_session_id": sub.CheckoutSessionID,
	}})
	return err
}

// Get implements SubscriptionStore.
func (s *GatewayStore) Get(ctx context.Context, id string) (Subscription, error) {
	rows, err := s.gw.Select(ctx, subscriptions, gateway.Query{
		Filter: gateway.Filter{"id": id},
		Limit:  1,
	})
	if err != nil {
		return Subscription{}, err
	}
	if len(rows) == 0 {
		return Subscription{}, model.NewNotFoundError("Subscription not found")
	}
	return subscriptionFromRow(rows[0]), nil
}

// SetAutoRenew implements SubscriptionStore.
func (s *GatewayStore) SetAutoRenew(ctx context.Context, id string, autoRenew bool) error {
	n, err := s.gw.Update(ctx, subscriptions,
		gateway.Row{"auto_renew": autoRenew, "updated_at": time.Now().UTC()},
		gateway.Filter{"id": id},
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NewNotFoundError("Subscription not found")
	}
	return nil
}

// HealthCheck reports whether the subscriptions relation can be read.
func (s *GatewayStore) HealthCheck(ctx context.Context) error {
	_, err := s.gw.Select(ctx, subscriptions, gateway.Query{Columns: []string{"id"}, Limit: 1})
	return err
}

func subscriptionFromRow(r gateway.Row) Subscription {
	sub := Subscription{
		ID:                text(r["id"]),
		UserID:            text(r["user_id"]),
		PlanType:          text(r["plan_type"]),
		Cycle:             text(r["billing_cycle"]),
		PriceID:           text(r["price_id"]),
		Status:            text(r["status"]),
		CheckoutSessionID: text(r["checkout_session_id"]),
	}
	sub.AutoRenew, _ = r["auto_renew"].(bool)
	sub.CreatedAt, _ = r["created_at"].(time.Time)
	return sub
}

func text(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
