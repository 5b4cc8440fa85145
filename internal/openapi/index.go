// Package openapi loads and indexes the OpenAPI contract of the billing
// functions, providing operation lookup by operationId and request/response
// validation against the contract schemas.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/inkline/model"
)

//go:embed functions.yaml
var functionsContract []byte

// IndexedOperation holds a resolved OpenAPI operation with its context.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	RequestBody  *openapi3.RequestBody
	Responses    *openapi3.Responses
}

// Index is an in-memory index of the contract's operations keyed by
// operationId. It also serves the contract document as JSON.
type Index struct {
	doc        *openapi3.T
	docJSON    []byte
	operations map[string]IndexedOperation
}

// LoadFunctions indexes the embedded billing functions contract.
func LoadFunctions() (*Index, error) {
	return Load(functionsContract)
}

// Load parses and validates an OpenAPI document and indexes its operations.
// External references are rejected.
func Load(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading contract: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating contract: %w", err)
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: encoding contract: %w", err)
	}

	idx := &Index{
		doc:        doc,
		docJSON:    docJSON,
		operations: make(map[string]IndexedOperation),
	}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			var body *openapi3.RequestBody
			if op.RequestBody != nil {
				body = op.RequestBody.Value
			}
			idx.operations[op.OperationID] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				RequestBody:  body,
				Responses:    op.Responses,
			}
		}
	}
	return idx, nil
}

// GetOperation returns the indexed operation for operationID.
func (idx *Index) GetOperation(operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// AllOperationIDs returns all operation IDs, sorted.
func (idx *Index) AllOperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateRequest validates a decoded JSON request body against the
// operation's request schema. It returns nil when the body conforms.
func (idx *Index) ValidateRequest(operationID string, body any) []model.FieldError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []model.FieldError{{Code: "unknown_operation", Message: fmt.Sprintf("operation %q not found", operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}
	return validate(op.RequestBody.Content, body)
}

// ValidateResponse validates a decoded JSON response body against the schema
// declared for status.
func (idx *Index) ValidateResponse(operationID string, status int, body any) []model.FieldError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []model.FieldError{{Code: "unknown_operation", Message: fmt.Sprintf("operation %q not found", operationID)}}
	}
	ref := op.Responses.Status(status)
	if ref == nil || ref.Value == nil {
		return []model.FieldError{{Code: "undeclared_status", Message: fmt.Sprintf("status %d is not declared for %q", status, operationID)}}
	}
	return validate(ref.Value.Content, body)
}

// ServeHTTP writes the contract document as JSON.
func (idx *Index) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(idx.docJSON)
}

func validate(content openapi3.Content, body any) []model.FieldError {
	mt := content.Get("application/json")
	if mt == nil || mt.Schema == nil || mt.Schema.Value == nil {
		return nil
	}
	err := mt.Schema.Value.VisitJSON(body, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var multi openapi3.MultiError
	if !errors.As(err, &multi) {
		multi = openapi3.MultiError{err}
	}
	out := make([]model.FieldError, 0, len(multi))
	for _, e := range multi {
		out = append(out, fieldError(e))
	}
	return out
}

func fieldError(err error) model.FieldError {
	var se *openapi3.SchemaError
	if !errors.As(err, &se) {
		return model.FieldError{Code: "invalid", Message: err.Error()}
	}
	field := strings.Join(se.JSONPointer(), ".")
	code := se.SchemaField
	if code == "required" {
		if name, ok := quoted(se.Reason); ok && !strings.HasSuffix(field, name) {
			field = strings.TrimPrefix(field+"."+name, ".")
		}
	}
	return model.FieldError{Field: field, Code: code, Message: se.Reason}
}

// quoted returns the first double-quoted token in s.
func quoted(s string) (string, bool) {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return "", false
	}
	name, err := strconv.QuotedPrefix(s[start:])
	if err != nil {
		return "", false
	}
	unq, err := strconv.Unquote(name)
	return unq, err == nil
}
