package model

import "time"

// WizardSession holds the partial form state of one flow for one subject.
type WizardSession struct {
	FlowID       string                    `json:"flow_id"`
	SubjectID    string                    `json:"subject_id"`
	Steps        map[string]map[string]any `json:"steps"`
	CurrentStep  int                       `json:"current_step"`
	Errors       map[string]string         `json:"errors,omitempty"`
	IsSubmitting bool                      `json:"is_submitting"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// SessionKey builds the persistence key for a flow/subject pair.
func SessionKey(flowID, subjectID string) string {
	return "wizard:" + flowID + ":" + subjectID
}

// Key returns the persistence key for the session.
func (s WizardSession) Key() string {
	return SessionKey(s.FlowID, s.SubjectID)
}

// SessionView is the read model returned to clients.
type SessionView struct {
	WizardSession
	CompletedSteps []string `json:"completed_steps"`
	TotalSteps     int      `json:"total_steps"`
}

// SubmitResult is returned after a successful final submission.
type SubmitResult struct {
	FlowID string         `json:"flow_id"`
	Record map[string]any `json:"record"`
}
