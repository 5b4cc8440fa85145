package billing

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/model"
)

// SubjectFunc returns the authenticated subject of r, or "" when the request
// is not authenticated.
type SubjectFunc func(r *http.Request) string

// Handler serves the billing functions. Errors are written as
// {"error": message} with 400, 404 or 500.
type Handler struct {
	svc     *Service
	subject SubjectFunc
	logger  *zap.Logger
}

// NewHandler creates a handler. A nil subject func skips ownership checks.
func NewHandler(svc *Service, subject SubjectFunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == nil {
		subject = func(*http.Request) string { return "" }
	}
	return &Handler{svc: svc, subject: subject, logger: logger}
}

// CreateCheckoutSession handles POST /functions/create-checkout-session.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if sub := h.subject(r); sub != "" && req.UserID != "" && req.UserID != sub {
		writeError(w, http.StatusBadRequest, "userId does not match the authenticated user")
		return
	}

	resp, err := h.svc.CreateCheckoutSession(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateSubscription handles POST /functions/update-subscription.
func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	resp, err := h.svc.UpdateSubscription(r.Context(), h.subject(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if ee, ok := model.AsEnvelope(err); ok {
		switch ee.Code {
		case model.ErrBadRequest:
			writeError(w, http.StatusBadRequest, ee.Message)
			return
		case model.ErrNotFound:
			writeError(w, http.StatusNotFound, ee.Message)
			return
		}
	}
	observability.RequestLogger(r.Context(), h.logger).Error("billing function failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
