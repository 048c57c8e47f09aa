// Package intent defines the Intent Record — the atomic unit of proposed
// agent work. Agents never call tools directly; every action they want to
// perform is expressed as an Intent and pushed through the authorization
// pipeline. Intents are immutable once created.
package intent

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedIntent marks a structurally invalid Intent Record. It is a
// contract violation resolved before evaluation, not a policy decision.
var ErrMalformedIntent = errors.New("malformed intent")

// Intent is a structured declaration of a proposed action, not yet
// authorized. The (intent, token) pairing travels through the pipeline as
// explicit parameters; nothing is ever attached to an Intent after
// construction.
type Intent struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Initiator   string    `json:"initiator"`
	DelegatedBy string    `json:"delegated_by,omitempty"`
	Target      string    `json:"target"`
	Content     string    `json:"content"`
	CaseID      string    `json:"case_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// New constructs an Intent with a fresh ID and timestamp.
func New(action, initiator, target, content, caseID string) Intent {
	return Intent{
		ID:        uuid.NewString(),
		Action:    action,
		Initiator: initiator,
		Target:    target,
		Content:   content,
		CaseID:    caseID,
		CreatedAt: time.Now().UTC(),
	}
}

// NewDelegated constructs an Intent proposed by a sub-agent on behalf of a
// delegating role.
func NewDelegated(action, initiator, delegatedBy, target, content, caseID string) Intent {
	it := New(action, initiator, target, content, caseID)
	it.DelegatedBy = delegatedBy
	return it
}

// Validate enforces the structural invariants of an Intent Record.
// Action and Initiator must be non-empty; DelegatedBy, when present, must
// differ from Initiator (a role cannot delegate to itself).
func (it Intent) Validate() error {
	if it.Action == "" {
		return fmt.Errorf("%w: empty action", ErrMalformedIntent)
	}
	if it.Initiator == "" {
		return fmt.Errorf("%w: empty initiator", ErrMalformedIntent)
	}
	if it.DelegatedBy != "" && it.DelegatedBy == it.Initiator {
		return fmt.Errorf("%w: delegated_by equals initiator %q", ErrMalformedIntent, it.Initiator)
	}
	return nil
}

// Delegated reports whether this intent originated from a sub-agent.
func (it Intent) Delegated() bool { return it.DelegatedBy != "" }
