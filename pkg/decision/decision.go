// Package decision defines the Decision record — the sole authorization
// result type exposed to collaborators. Every evaluation produces exactly
// one Decision, tagged with the single enforcement kind that fired, and
// every Decision is appended to the audit ledger exactly once.
package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Verdict is the binary outcome of an evaluation.
type Verdict string

const (
	VerdictAllowed Verdict = "ALLOWED"
	VerdictBlocked Verdict = "BLOCKED"
)

// Kind is the closed enumeration of enforcement kinds. Exactly one kind is
// attached to a Decision: the first check that fired. ALLOWED_DEFAULT is
// the only permissive label.
type Kind string

const (
	KindInjection          Kind = "INJECTION"
	KindDelegationExceeded Kind = "DELEGATION_EXCEEDED"
	KindHardBlock          Kind = "HARD_BLOCK"
	KindTimeConstraint     Kind = "TIME_CONSTRAINT"
	KindTokenInvalid       Kind = "TOKEN_INVALID"
	KindIntentDrift        Kind = "INTENT_DRIFT"
	KindAllowedDefault     Kind = "ALLOWED_DEFAULT"
)

// Kinds returns the stable enumeration of enforcement kinds for UI and
// alerting classification.
func Kinds() []Kind {
	return []Kind{
		KindInjection,
		KindDelegationExceeded,
		KindHardBlock,
		KindTimeConstraint,
		KindTokenInvalid,
		KindIntentDrift,
		KindAllowedDefault,
	}
}

// Decision captures the final judgment over one Intent Record. Immutable
// once created; LedgerNodeHash is the only field set after construction,
// by the ledger append that folds the decision into the chain.
type Decision struct {
	IntentID    string    `json:"intent_id"`
	CaseID      string    `json:"case_id,omitempty"`
	Action      string    `json:"action"`
	Initiator   string    `json:"initiator"`
	DelegatedBy string    `json:"delegated_by,omitempty"`
	Verdict     Verdict   `json:"verdict"`
	Kind        Kind      `json:"enforcement_kind"`
	RuleRef     string    `json:"rule_reference,omitempty"`
	Reasoning   string    `json:"reasoning"`
	TokenDigest string    `json:"token_digest,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// LedgerNodeHash links back to the ledger node that recorded this
	// decision. Not part of the canonical payload.
	LedgerNodeHash string `json:"ledger_node_hash,omitempty"`
}

// Allowed reports whether the decision permits execution.
func (d Decision) Allowed() bool { return d.Verdict == VerdictAllowed }

// CanonicalPayload returns the RFC 8785 canonical JSON serialization of
// the decision, excluding LedgerNodeHash. Deterministic across processes:
// the same decision always canonicalizes to the same bytes.
func (d Decision) CanonicalPayload() ([]byte, error) {
	stripped := d
	stripped.LedgerNodeHash = ""
	raw, err := json.Marshal(stripped)
	if err != nil {
		return nil, fmt.Errorf("decision: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("decision: canonicalize: %w", err)
	}
	return canonical, nil
}

// PayloadHash returns the SHA-256 digest of the canonical payload.
func (d Decision) PayloadHash() (string, error) {
	canonical, err := d.CanonicalPayload()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
