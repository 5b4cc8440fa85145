package model

import (
	"context"
	"errors"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	tests := []struct {
		name string
		rc   RequestContext
		want error
	}{
		{"artist", RequestContext{SubjectID: "artist-1", Role: "authenticated"}, nil},
		{"no subject", RequestContext{Email: "ink@example.com"}, ErrNoSubject},
		{"blank subject", RequestContext{SubjectID: "  "}, ErrNoSubject},
		{"guest", RequestContext{SubjectID: "guest-9", Anonymous: true}, ErrAnonymousSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rc.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRequestContextFrom(t *testing.T) {
	rctx := &RequestContext{SubjectID: "client-1"}
	ctx := WithRequestContext(context.Background(), rctx)

	if got := RequestContextFrom(ctx); got != rctx {
		t.Errorf("RequestContextFrom() = %v, want %v", got, rctx)
	}
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("RequestContextFrom(empty) = %v, want nil", got)
	}
}
