// Package wizard holds multi-step registration and setup state for one
// subject and one flow, and persists it between requests.
package wizard

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/flow"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/model"
)

// Submitter receives the assembled payload of a completed flow.
type Submitter interface {
	Submit(ctx context.Context, def model.FlowDefinition, subjectID string, payload map[string]any) (map[string]any, error)
}

// Container is the state of one wizard session. Steps may be written in any
// order; completeness is only enforced at Submit. All methods are safe for
// concurrent use.
type Container struct {
	mu          sync.Mutex
	def         model.FlowDefinition
	subjectID   string
	steps       map[string]map[string]any
	currentStep int
	errors      map[string]string
	submitting  bool
	updatedAt   time.Time

	rules   *flow.Rules
	persist *persister
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewContainer creates an empty, unpersisted container for def.
func NewContainer(def model.FlowDefinition, subjectID string, rules *flow.Rules) *Container {
	if rules == nil {
		rules = flow.NewRules()
	}
	return &Container{
		def:       def,
		subjectID: subjectID,
		steps:     make(map[string]map[string]any),
		errors:    make(map[string]string),
		rules:     rules,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
}

// Flow returns the flow definition the container was opened with.
func (c *Container) Flow() model.FlowDefinition {
	return c.def
}

// UpdateStep replaces the data stored for stepID and clears field errors.
// Successive calls for the same step do not merge.
func (c *Container) UpdateStep(stepID string, data map[string]any) error {
	if c.def.StepIndex(stepID) < 0 {
		return model.NewUnknownStepError(c.def.ID, stepID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps[stepID] = maps.Clone(data)
	if c.steps[stepID] == nil {
		c.steps[stepID] = map[string]any{}
	}
	clear(c.errors)
	c.touch()
	c.metrics.RecordStepUpdate(c.def.ID, stepID)
	return nil
}

// StepData returns a copy of the data stored for stepID, or an empty map.
func (c *Container) StepData(stepID string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := maps.Clone(c.steps[stepID])
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// SetCurrentStep moves the step pointer without validating content. n is
// clamped to [0, len(steps)], where len(steps) means every step is passed.
func (c *Container) SetCurrentStep(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentStep = clampStep(n, len(c.def.Steps))
	c.touch()
	return c.currentStep
}

// CurrentStep returns the step pointer.
func (c *Container) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentStep
}

// SetErrors replaces the field error map.
func (c *Container) SetErrors(errs map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors = maps.Clone(errs)
	if c.errors == nil {
		c.errors = make(map[string]string)
	}
	c.touch()
}

// ClearErrors empties the field error map.
func (c *Container) ClearErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.errors)
	c.touch()
}

// Errors returns a copy of the field error map.
func (c *Container) Errors() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.errors)
}

// IsSubmitting reports whether a Submit call is in progress.
func (c *Container) IsSubmitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// IsStepComplete reports whether every required field of stepID is present
// and neither nil nor the empty string. Rules are not evaluated.
func (c *Container) IsStepComplete(stepID string) bool {
	step, ok := c.def.Step(stepID)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(flow.MissingFields(step, c.steps[stepID])) == 0
}

// CompletedSteps returns the complete step ids in flow order.
func (c *Container) CompletedSteps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completedLocked()
}

func (c *Container) completedLocked() []string {
	done := make([]string, 0, len(c.def.Steps))
	for _, step := range c.def.Steps {
		if len(flow.MissingFields(step, c.steps[step.ID])) == 0 {
			done = append(done, step.ID)
		}
	}
	return done
}

// ValidateStep checks required fields and rules for stepID, stores the
// resulting field errors and returns them. The step pointer is not moved.
func (c *Container) ValidateStep(stepID string) ([]model.FieldError, error) {
	step, ok := c.def.Step(stepID)
	if !ok {
		return nil, model.NewUnknownStepError(c.def.ID, stepID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fieldErrs, err := c.validateLocked(step)
	if err != nil {
		return nil, err
	}
	c.errors = fieldErrorMap(fieldErrs)
	c.touch()
	return fieldErrs, nil
}

func (c *Container) validateLocked(step model.StepDefinition) ([]model.FieldError, error) {
	data := c.steps[step.ID]
	fieldErrs := flow.RequiredErrors(step, data)
	ruleErrs, err := c.rules.Evaluate(step, data)
	if err != nil {
		return nil, err
	}
	return append(fieldErrs, ruleErrs...), nil
}

// ClearRegistration resets the container to its initial empty state and
// removes any persisted copy.
func (c *Container) ClearRegistration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Container) resetLocked() {
	c.steps = make(map[string]map[string]any)
	c.currentStep = 0
	c.errors = make(map[string]string)
	c.submitting = false
	c.updatedAt = c.now().UTC()
	if c.persist != nil {
		c.persist.remove()
	}
}

// Snapshot returns a deep copy of the session with derived progress.
func (c *Container) Snapshot() model.SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()

	return model.SessionView{
		WizardSession:  c.sessionLocked(),
		CompletedSteps: c.completedLocked(),
		TotalSteps:     len(c.def.Steps),
	}
}

func (c *Container) sessionLocked() model.WizardSession {
	steps := make(map[string]map[string]any, len(c.steps))
	for id, data := range c.steps {
		steps[id] = maps.Clone(data)
	}
	return model.WizardSession{
		FlowID:       c.def.ID,
		SubjectID:    c.subjectID,
		Steps:        steps,
		CurrentStep:  c.currentStep,
		Errors:       maps.Clone(c.errors),
		IsSubmitting: c.submitting,
		UpdatedAt:    c.updatedAt,
	}
}

// Submit validates every step, hands the merged step data to s and clears
// the registration on success. A concurrent second call fails with
// SUBMISSION_IN_PROGRESS. On failure all state except the submitting flag is
// kept.
func (c *Container) Submit(ctx context.Context, s Submitter) (model.SubmitResult, error) {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return model.SubmitResult{}, model.NewSubmissionInProgressError(c.def.ID)
	}

	var fieldErrs []model.FieldError
	for _, step := range c.def.Steps {
		errs, err := c.validateLocked(step)
		if err != nil {
			c.mu.Unlock()
			return model.SubmitResult{}, err
		}
		fieldErrs = append(fieldErrs, errs...)
	}
	if len(fieldErrs) > 0 {
		c.errors = fieldErrorMap(fieldErrs)
		c.touch()
		c.mu.Unlock()
		c.metrics.RecordSubmission(c.def.ID, "invalid")
		return model.SubmitResult{}, model.NewValidationError(fieldErrs)
	}

	payload := make(map[string]any)
	for _, step := range c.def.Steps {
		maps.Copy(payload, c.steps[step.ID])
	}
	c.submitting = true
	c.mu.Unlock()

	record, err := s.Submit(ctx, c.def, c.subjectID, payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.submitting = false
		status := "failure"
		if _, ok := model.AsEnvelope(err); ok {
			status = "rejected"
		}
		c.metrics.RecordSubmission(c.def.ID, status)
		return model.SubmitResult{}, err
	}

	c.resetLocked()
	c.metrics.RecordSubmission(c.def.ID, "success")
	c.logger.Info("wizard submitted",
		zap.String("flow_id", c.def.ID),
		zap.String("subject_id", c.subjectID),
	)
	return model.SubmitResult{FlowID: c.def.ID, Record: record}, nil
}

// Flush waits until every scheduled persistence write has finished.
func (c *Container) Flush(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	return c.persist.flush(ctx)
}

// restore loads a persisted session, dropping steps the flow no longer has.
func (c *Container) restore(s model.WizardSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, data := range s.Steps {
		if c.def.StepIndex(id) >= 0 {
			c.steps[id] = maps.Clone(data)
		}
	}
	c.currentStep = clampStep(s.CurrentStep, len(c.def.Steps))
	c.errors = maps.Clone(s.Errors)
	if c.errors == nil {
		c.errors = make(map[string]string)
	}
	c.updatedAt = s.UpdatedAt
}

// touch stamps the update time and schedules a persistence write. Must be
// called with the lock held.
func (c *Container) touch() {
	c.updatedAt = c.now().UTC()
	if c.persist == nil {
		return
	}
	data, err := json.Marshal(c.sessionLocked())
	if err != nil {
		c.logger.Warn("wizard session encode failed",
			zap.String("flow_id", c.def.ID),
			zap.Error(err),
		)
		c.metrics.RecordPersistFailure(c.def.ID)
		return
	}
	c.persist.set(data)
}

func clampStep(n, last int) int {
	return min(max(n, 0), last)
}

func fieldErrorMap(errs []model.FieldError) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		if _, ok := out[fe.Field]; !ok {
			out[fe.Field] = fe.Message
		}
	}
	return out
}
