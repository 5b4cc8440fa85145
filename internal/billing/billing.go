// Package billing serves the checkout-session and update-subscription
// functions called by the mobile client. Request and response bodies keep
// the client's camelCase wire format.
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/config"
	"github.com/pitabwire/inkline/model"
)

// Billing cycles accepted by checkout.
const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
)

// Subscription statuses.
const (
	StatusPending = "pending"
	StatusActive  = "active"
)

// DefaultCheckoutURLTemplate is used when no template is configured.
const DefaultCheckoutURLTemplate = "https://checkout.inkline.app/session/{session_id}"

// CheckoutRequest is the create-checkout-session body.
type CheckoutRequest struct {
	PriceID  string `json:"priceId"`
	UserID   string `json:"userId"`
	PlanType string `json:"planType"`
	Cycle    string `json:"cycle"`
}

// CheckoutResponse is the create-checkout-session reply.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// UpdateRequest is the update-subscription body. AutoRenew is a pointer so
// that an absent field can be told apart from false.
type UpdateRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	AutoRenew      *bool  `json:"autoRenew"`
}

// UpdateResponse is the update-subscription reply.
type UpdateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Subscription is one row of user_subscriptions.
type Subscription struct {
	ID                string
	UserID            string
	PlanType          string
	Cycle             string
	PriceID           string
	Status            string
	AutoRenew         bool
	CheckoutSessionID string
	CreatedAt         time.Time
}

// Service validates billing requests and records subscriptions.
type Service struct {
	store       SubscriptionStore
	urlTemplate string
	prices      map[string]string
	logger      *zap.Logger
	newID       func() string
}

// NewService creates a billing service.
func NewService(store SubscriptionStore, cfg config.BillingConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl := cfg.CheckoutURLTemplate
	if tmpl == "" {
		tmpl = DefaultCheckoutURLTemplate
	}
	return &Service{
		store:       store,
		urlTemplate: tmpl,
		prices:      cfg.Prices,
		logger:      logger,
		newID:       uuid.NewString,
	}
}

// CreateCheckoutSession records a pending subscription and returns the URL
// the client opens to pay.
func (s *Service) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"priceId", req.PriceID},
		{"userId", req.UserID},
		{"planType", req.PlanType},
		{"cycle", req.Cycle},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return CheckoutResponse{}, model.NewBadRequestError("Missing required fields: " + strings.Join(missing, ", "))
	}
	if req.Cycle != CycleMonthly && req.Cycle != CycleYearly {
		return CheckoutResponse{}, model.NewBadRequestError(fmt.Sprintf("Unsupported billing cycle %q", req.Cycle))
	}
	if len(s.prices) > 0 && !knownPrice(s.prices, req.PriceID) {
		return CheckoutResponse{}, model.NewBadRequestError(fmt.Sprintf("Unknown price %q", req.PriceID))
	}

	sessionID := s.newID()
	sub := Subscription{
		ID:                s.newID(),
		UserID:            req.UserID,
		PlanType:          req.PlanType,
		Cycle:             req.Cycle,
		PriceID:           req.PriceID,
		Status:            StatusPending,
		AutoRenew:         true,
		CheckoutSessionID: sessionID,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return CheckoutResponse{}, fmt.Errorf("billing: record subscription: %w", err)
	}

	s.logger.Info("checkout session created",
		zap.String("subject_id", req.UserID),
		zap.String("plan_type", req.PlanType),
		zap.String("cycle", req.Cycle),
		zap.String("session_id", sessionID),
	)
	return CheckoutResponse{URL: s.checkoutURL(sessionID, req)}, nil
}

// UpdateSubscription toggles auto-renewal on a subscription owned by
// subjectID. Subscriptions of other users are reported as not found.
func (s *Service) UpdateSubscription(ctx context.Context, subjectID string, req UpdateRequest) (UpdateResponse, error) {
	if strings.TrimSpace(req.SubscriptionID) == "" || req.AutoRenew == nil {
		return UpdateResponse{}, model.NewBadRequestError("Missing required fields: subscriptionId, autoRenew")
	}

	sub, err := s.store.Get(ctx, req.SubscriptionID)
	if err != nil {
		return UpdateResponse{}, err
	}
	if subjectID != "" && sub.UserID != subjectID {
		return UpdateResponse{}, model.NewNotFoundError("Subscription not found")
	}

	if err := s.store.SetAutoRenew(ctx, sub.ID, *req.AutoRenew); err != nil {
		return UpdateResponse{}, err
	}

	msg := "Auto-renewal disabled"
	if *req.AutoRenew {
		msg = "Auto-renewal enabled"
	}
	s.logger.Info("subscription updated",
		zap.String("subscription_id", sub.ID),
		zap.Bool("auto_renew", *req.AutoRenew),
	)
	return UpdateResponse{Success: true, Message: msg}, nil
}

func (s *Service) checkoutURL(sessionID string, req CheckoutRequest) string {
	return strings.NewReplacer(
		"{session_id}", sessionID,
		"{price_id}", req.PriceID,
		"{plan_type}", req.PlanType,
		"{cycle}", req.Cycle,
	).Replace(s.urlTemplate)
}

func knownPrice(prices map[string]string, priceID string) bool {
	for _, id := range prices {
		if id == priceID {
			return true
		}
	}
	return false
}
