package model

// FlowDefinition describes a multi-step registration or setup flow. Step order
// in Steps is the order the client walks through; index i is step pointer i.
type FlowDefinition struct {
	ID     string           `yaml:"id"     json:"id"`
	Name   string           `yaml:"name"   json:"name"`
	Target string           `yaml:"target" json:"target"`
	Steps  []StepDefinition `yaml:"steps"  json:"steps"`

	// Populated by the loader.
	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}

// StepDefinition describes one screen's worth of fields within a flow.
type StepDefinition struct {
	ID             string           `yaml:"id"              json:"id"`
	Title          string           `yaml:"title"           json:"title"`
	RequiredFields []string         `yaml:"required_fields" json:"required_fields"`
	Rules          []RuleDefinition `yaml:"rules"           json:"rules,omitempty"`
}

// RuleDefinition is a cross-field validation rule. Expression must evaluate to
// a boolean over the step's data; false produces a field error on Field.
type RuleDefinition struct {
	Field      string `yaml:"field"      json:"field"`
	Expression string `yaml:"expression" json:"expression"`
	Message    string `yaml:"message"    json:"message"`
}

// StepIndex returns the position of stepID within the flow, or -1.
func (f FlowDefinition) StepIndex(stepID string) int {
	for i, s := range f.Steps {
		if s.ID == stepID {
			return i
		}
	}
	return -1
}

// Step returns the step definition for stepID.
func (f FlowDefinition) Step(stepID string) (StepDefinition, bool) {
	if i := f.StepIndex(stepID); i >= 0 {
		return f.Steps[i], true
	}
	return StepDefinition{}, false
}

// MaxStep returns the highest defined step index. The step pointer may reach
// MaxStep()+1, meaning every step has been passed.
func (f FlowDefinition) MaxStep() int {
	return len(f.Steps) - 1
}
