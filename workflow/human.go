package workflow

import (
	"context"
	"slices"
	"time"
)

// StepType selects how the scheduler treats a ready step.
type StepType string

const (
	// StepTypeNormal steps are executed.
	StepTypeNormal StepType = "normal"
	// StepTypeHuman steps suspend the run until a person answers.
	StepTypeHuman StepType = "human"
)

// Condition decides whether a ready step runs. A step whose condition is
// false is skipped. An error fails the run.
type Condition func(ctx context.Context, state *State) (bool, error)

// PromptFunc renders the text shown to the approver of a human gate.
type PromptFunc func(state *State) string

// PendingWorkflow describes a run paused at a human gate. It is serializable
// so callers can hand it to whatever surfaces the decision to a person.
type PendingWorkflow struct {
	RunID     string         `json:"run_id"`
	Workflow  string         `json:"workflow"`
	RequestID string         `json:"request_id"`
	StepName  string         `json:"step_name"`
	Prompt    string         `json:"prompt"`
	Options   []string       `json:"options,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// Expired reports whether the decision deadline has passed at now.
func (p *PendingWorkflow) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// HumanInputResponse is a person's answer to a pending human gate.
type HumanInputResponse struct {
	// RequestID must match PendingWorkflow.RequestID when set.
	RequestID string `json:"request_id,omitempty"`
	// Approved false skips the gate. The response is recorded either way.
	Approved       bool   `json:"approved"`
	Value          any    `json:"value,omitempty"`
	SelectedOption string `json:"selected_option,omitempty"`
	Comment        string `json:"comment,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// validate checks resp against the pending request it answers.
func (resp HumanInputResponse) validate(p *PendingWorkflow) error {
	if resp.RequestID != "" && resp.RequestID != p.RequestID {
		return &ResponseError{RequestID: resp.RequestID, Reason: "does not match pending request " + p.RequestID}
	}
	if resp.Approved && len(p.Options) > 0 && !slices.Contains(p.Options, resp.SelectedOption) {
		return &ResponseError{RequestID: p.RequestID, Reason: "option " + resp.SelectedOption + " is not offered"}
	}
	return nil
}

// Approved returns a Condition that holds once gate has been approved. Use it
// on steps that must not run when the gate was rejected, since a rejected
// gate still counts as resolved.
func Approved(gate string) Condition {
	return func(_ context.Context, state *State) (bool, error) {
		if resp, ok := Lookup[HumanInputResponse](state, gate); ok {
			return resp.Approved, nil
		}
		if !state.Has(gate) {
			return false, nil
		}
		var resp HumanInputResponse
		if err := state.Decode(gate, &resp); err != nil {
			return false, err
		}
		return resp.Approved, nil
	}
}
