package availability

import (
	"context"

	"github.com/pitabwire/inkline/internal/gateway"
)

// GatewayLookup checks the profiles relation for a claimed username.
type GatewayLookup struct {
	gw gateway.Gateway
}

// NewGatewayLookup creates a lookup over gw.
func NewGatewayLookup(gw gateway.Gateway) *GatewayLookup {
	return &GatewayLookup{gw: gw}
}

// Taken implements Lookup.
func (l *GatewayLookup) Taken(ctx context.Context, username string) (bool, error) {
	rows, err := l.gw.Select(ctx, "profiles", gateway.Query{
		Columns: []string{"id"},
		Filter:  gateway.Filter{"username": username},
		Limit:   1,
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
