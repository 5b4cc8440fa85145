package wizard

import (
	"context"
	"strings"
	"unicode"

	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/model"
)

// credentialFields are handed to the identity provider by the client and are
// never written to a registration relation.
var credentialFields = map[string]bool{
	"password":        true,
	"confirmPassword": true,
}

// GatewaySubmitter inserts the completed payload into the flow's target
// relation, tagged with the subject id. Field names are converted to
// snake_case column names.
type GatewaySubmitter struct {
	gw gateway.Gateway
}

// NewGatewaySubmitter creates a submitter backed by gw.
func NewGatewaySubmitter(gw gateway.Gateway) *GatewaySubmitter {
	return &GatewaySubmitter{gw: gw}
}

// Submit implements Submitter. Gateway failures surface as REMOTE_ERROR;
// envelope errors pass through unchanged.
func (s *GatewaySubmitter) Submit(ctx context.Context, def model.FlowDefinition, subjectID string, payload map[string]any) (map[string]any, error) {
	row := make(gateway.Row, len(payload)+1)
	for k, v := range payload {
		if credentialFields[k] {
			continue
		}
		row[snakeCase(k)] = v
	}
	row["subject_id"] = subjectID

	rows, err := s.gw.Insert(ctx, def.Target, []gateway.Row{row})
	if err != nil {
		if _, ok := model.AsEnvelope(err); ok {
			return nil, err
		}
		return nil, model.NewRemoteError("Could not complete registration. Please try again.", err)
	}
	if len(rows) == 0 {
		return row, nil
	}
	return rows[0], nil
}

// snakeCase converts a camelCase field name to a column name:
// "yearsOfExperience" becomes "years_of_experience".
func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
