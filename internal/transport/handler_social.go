package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/model"
)

// Upper bounds on the posts a listing reads.
const (
	maxFacetPosts = 500
	maxFeedPosts  = 100
)

// postQuery reads the optional author_id and limit parameters shared by the
// post listings. limit is clamped to upper.
func postQuery(r *http.Request, upper int) (gateway.Query, error) {
	q := gateway.Query{Limit: upper}
	if author := r.URL.Query().Get("author_id"); author != "" {
		q.Filter = gateway.Filter{"user_id": author}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return gateway.Query{}, model.NewBadRequestError("limit must be a positive integer")
		}
		q.Limit = min(n, upper)
	}
	return q, nil
}

// feed lists posts with the caller's like state. A newer feed request by the
// same subject supersedes this one.
func (h *handlers) feed(w http.ResponseWriter, r *http.Request) {
	q, err := postQuery(r, maxFeedPosts)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	subject := SubjectFrom(r)
	ctx, tok := h.deps.Fetches.Begin(r.Context(), subject+":feed")
	posts, err := h.deps.Social.Feed(ctx, subject, q)
	if !h.deps.Fetches.Deliver(tok, nil) {
		writeRequestError(w, r, model.NewSupersededError("feed fetch"))
		return
	}
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (h *handlers) toggleLike(w http.ResponseWriter, r *http.Request) {
	post, err := h.deps.Social.ToggleLike(r.Context(), SubjectFrom(r), chi.URLParam(r, "postId"))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, post)
}

func (h *handlers) toggleFollow(w http.ResponseWriter, r *http.Request) {
	profile, err := h.deps.Social.ToggleFollow(r.Context(), SubjectFrom(r), chi.URLParam(r, "profileId"))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

// getCollection loads a collection. A newer load by the same subject
// supersedes this one, which then answers SUPERSEDED.
func (h *handlers) getCollection(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFrom(r)
	ctx, tok := h.deps.Fetches.Begin(r.Context(), subject+":collection")
	entries, err := h.deps.Social.LoadCollection(ctx, subject, chi.URLParam(r, "collectionId"))
	if !h.deps.Fetches.Deliver(tok, nil) {
		writeRequestError(w, r, model.NewSupersededError("collection fetch"))
		return
	}
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *handlers) removeFromCollection(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Social.RemoveFromCollection(r.Context(), SubjectFrom(r),
		chi.URLParam(r, "collectionId"), chi.URLParam(r, "postId"))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *handlers) reorderCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PostIDs []string `json:"post_ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeRequestError(w, r, err)
		return
	}
	if len(body.PostIDs) == 0 {
		writeRequestError(w, r, model.NewBadRequestError("post_ids is required"))
		return
	}
	entries, err := h.deps.Social.ReorderCollection(r.Context(), SubjectFrom(r),
		chi.URLParam(r, "collectionId"), body.PostIDs)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *handlers) inbox(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.deps.Social.Inbox(r.Context(), SubjectFrom(r))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	conv, err := h.deps.Social.MarkRead(r.Context(), SubjectFrom(r), chi.URLParam(r, "conversationId"))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, conv)
}

// facets computes filter options over posts, optionally narrowed to one
// author. Like getCollection, a newer request by the same subject wins.
func (h *handlers) facets(w http.ResponseWriter, r *http.Request) {
	q, err := postQuery(r, maxFacetPosts)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}

	ctx, tok := h.deps.Fetches.Begin(r.Context(), SubjectFrom(r)+":facets")
	facets, err := h.deps.Social.Facets(ctx, q)
	if !h.deps.Fetches.Deliver(tok, nil) {
		writeRequestError(w, r, model.NewSupersededError("facet fetch"))
		return
	}
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, facets)
}
