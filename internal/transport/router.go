package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/availability"
	"github.com/pitabwire/inkline/internal/billing"
	"github.com/pitabwire/inkline/internal/config"
	"github.com/pitabwire/inkline/internal/fetch"
	"github.com/pitabwire/inkline/internal/social"
	"github.com/pitabwire/inkline/internal/upload"
	"github.com/pitabwire/inkline/internal/wizard"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler

	Sessions     *wizard.Manager
	Submitter    wizard.Submitter
	Social       *social.Service
	Uploads      *upload.Pipeline
	Availability *availability.Checker
	Billing      *billing.Handler
	Contract     http.Handler
	Fetches      *fetch.Scope

	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Fetches == nil {
		deps.Fetches = fetch.NewScope()
	}
	h := &handlers{deps: deps, logger: logger}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Method(http.MethodGet, "/ui/health", orDefault(deps.HealthHandler, handleHealth))
	r.Method(http.MethodGet, "/ui/ready", orDefault(deps.ReadyHandler, handleReady))
	r.Method(http.MethodGet, "/metrics", orDefault(deps.MetricsHandler, handleMetrics))
	if deps.Contract != nil {
		r.Method(http.MethodGet, "/functions/openapi.json", deps.Contract)
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		if deps.Sessions != nil {
			r.Get("/ui/flows/{flowId}/session", h.getSession)
			r.Delete("/ui/flows/{flowId}/session", h.clearSession)
			r.Put("/ui/flows/{flowId}/steps/{stepId}", h.updateStep)
			r.Post("/ui/flows/{flowId}/current-step", h.setCurrentStep)
			r.Post("/ui/flows/{flowId}/validate/{stepId}", h.validateStep)
			r.Post("/ui/flows/{flowId}/submit", h.submit)
		}

		if deps.Social != nil {
			r.Get("/ui/posts", h.feed)
			r.Post("/ui/posts/{postId}/like", h.toggleLike)
			r.Get("/ui/posts/facets", h.facets)
			r.Post("/ui/profiles/{profileId}/follow", h.toggleFollow)
			r.Get("/ui/collections/{collectionId}", h.getCollection)
			r.Delete("/ui/collections/{collectionId}/posts/{postId}", h.removeFromCollection)
			r.Put("/ui/collections/{collectionId}/order", h.reorderCollection)
			r.Get("/ui/inbox", h.inbox)
			r.Post("/ui/inbox/{conversationId}/read", h.markRead)
		}

		if deps.Uploads != nil {
			r.Post("/ui/uploads", h.uploadBatch)
		}

		if deps.Availability != nil {
			r.Get("/ui/usernames/{candidate}/availability", h.usernameAvailability)
		}

		if deps.Billing != nil {
			r.Post("/functions/create-checkout-session", deps.Billing.CreateCheckoutSession)
			r.Post("/functions/update-subscription", deps.Billing.UpdateSubscription)
		}
	})

	return r
}

// handlers serves the authenticated routes.
type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func orDefault(h http.Handler, fallback http.HandlerFunc) http.Handler {
	if h != nil {
		return h
	}
	return fallback
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}
