package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/internal/wizard"
	"github.com/pitabwire/inkline/model"
)

// container opens the caller's session for the flow in the URL.
func (h *handlers) container(r *http.Request) (*wizard.Container, error) {
	return h.deps.Sessions.Open(r.Context(), chi.URLParam(r, "flowId"), SubjectFrom(r))
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	c, err := h.container(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c.Snapshot())
}

func (h *handlers) updateStep(w http.ResponseWriter, r *http.Request) {
	c, err := h.container(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	var data map[string]any
	if err := decodeJSON(r, &data); err != nil {
		writeRequestError(w, r, err)
		return
	}

	stepID := chi.URLParam(r, "stepId")
	if err := c.UpdateStep(stepID, data); err != nil {
		writeRequestError(w, r, err)
		return
	}
	observability.RequestLogger(r.Context(), h.logger).Debug("wizard step updated",
		zap.String("flow_id", c.Flow().ID),
		zap.String("step_id", stepID),
		zap.Any("data", observability.RedactBody(data)),
	)
	WriteJSON(w, http.StatusOK, c.Snapshot())
}

func (h *handlers) setCurrentStep(w http.ResponseWriter, r *http.Request) {
	c, err := h.container(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	var body struct {
		Step *int `json:"step"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeRequestError(w, r, err)
		return
	}
	if body.Step == nil {
		writeRequestError(w, r, model.NewBadRequestError("step is required"))
		return
	}
	c.SetCurrentStep(*body.Step)
	WriteJSON(w, http.StatusOK, c.Snapshot())
}

func (h *handlers) validateStep(w http.ResponseWriter, r *http.Request) {
	c, err := h.container(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	details, err := c.ValidateStep(chi.URLParam(r, "stepId"))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	if len(details) > 0 {
		WriteValidationError(w, details)
		return
	}
	WriteJSON(w, http.StatusOK, c.Snapshot())
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	c, err := h.container(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	res, err := c.Submit(r.Context(), h.deps.Submitter)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.release(r)
	if username, ok := res.Record["username"].(string); ok && h.deps.Availability != nil {
		h.deps.Availability.Forget(username)
	}
	WriteJSON(w, http.StatusCreated, res)
}

func (h *handlers) clearSession(w http.ResponseWriter, r *http.Request) {
	c, err := h.container(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	c.ClearRegistration()
	h.release(r)
	w.WriteHeader(http.StatusNoContent)
}

// release drops the caller's container once its session has ended. The
// removal of the persisted copy is flushed first.
func (h *handlers) release(r *http.Request) {
	h.deps.Sessions.Close(chi.URLParam(r, "flowId"), SubjectFrom(r))
}
