package flow

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/pitabwire/inkline/model"
)

// Field error codes produced by step validation.
const (
	CodeRequired = "REQUIRED"
	CodeRule     = "RULE"
)

// Rules compiles and evaluates cross-field step rules. Compiled programs are
// cached by expression text. Safe for concurrent use.
type Rules struct {
	programs sync.Map // expression -> *vm.Program
}

// NewRules creates an empty rule evaluator.
func NewRules() *Rules {
	return &Rules{}
}

// Compile compiles expression as a boolean program over step data.
func (r *Rules) Compile(expression string) (*vm.Program, error) {
	if cached, ok := r.programs.Load(expression); ok {
		return cached.(*vm.Program), nil
	}
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	program, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	r.programs.Store(expression, program)
	return program, nil
}

// Evaluate runs every rule of step against data and returns a field error
// for each rule that evaluates to false. A rule that fails at runtime, e.g.
// comparing a string with a number, counts as false.
func (r *Rules) Evaluate(step model.StepDefinition, data map[string]any) ([]model.FieldError, error) {
	if len(step.Rules) == 0 {
		return nil, nil
	}

	env := make(map[string]any, len(data))
	for k, v := range data {
		env[k] = v
	}

	var errs []model.FieldError
	for _, rule := range step.Rules {
		program, err := r.Compile(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}
		out, err := expr.Run(program, env)
		if ok, _ := out.(bool); err != nil || !ok {
			errs = append(errs, model.FieldError{
				Field:   rule.Field,
				Code:    CodeRule,
				Message: rule.Message,
			})
		}
	}
	return errs, nil
}

// IsPresent reports whether a required field value counts as filled in:
// not missing, not nil, and not the empty string.
func IsPresent(v any, ok bool) bool {
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}

// MissingFields returns the required fields of step that are not present in
// data, in declaration order.
func MissingFields(step model.StepDefinition, data map[string]any) []string {
	var missing []string
	for _, field := range step.RequiredFields {
		v, ok := data[field]
		if !IsPresent(v, ok) {
			missing = append(missing, field)
		}
	}
	return missing
}

// RequiredErrors converts the missing fields of step into field errors.
func RequiredErrors(step model.StepDefinition, data map[string]any) []model.FieldError {
	missing := MissingFields(step, data)
	if len(missing) == 0 {
		return nil
	}
	errs := make([]model.FieldError, 0, len(missing))
	for _, field := range missing {
		errs = append(errs, model.FieldError{
			Field:   field,
			Code:    CodeRequired,
			Message: fmt.Sprintf("%s is required", field),
		})
	}
	return errs
}
