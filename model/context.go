package model

import (
	"context"
	"errors"
	"strings"
)

// Caller identity errors returned by RequestContext.Validate.
var (
	ErrNoSubject        = errors.New("token has no subject")
	ErrAnonymousSession = errors.New("anonymous session")
)

// RequestContext identifies the caller of an authenticated request. The
// transport layer builds it once per request from the verified token; it is
// read-only afterwards.
type RequestContext struct {
	SubjectID string
	Email     string
	// Role is the database role the token was issued for, e.g. "authenticated".
	Role string
	// Anonymous marks guest sessions, which may browse but own no data.
	Anonymous     bool
	DeviceID      string
	CorrelationID string
	TraceID       string
	Locale        string
}

// Validate reports whether the caller may act on user-owned data.
func (rc *RequestContext) Validate() error {
	if strings.TrimSpace(rc.SubjectID) == "" {
		return ErrNoSubject
	}
	if rc.Anonymous {
		return ErrAnonymousSession
	}
	return nil
}

type contextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext attached to ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
