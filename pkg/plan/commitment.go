// Package plan models the Plan Commitment — an externally signed,
// time-bounded attestation of a specific ordered step set — and the
// verifier that checks runtime actions against it. A commitment is either
// currently valid (signature verifies and it has not expired) or it is not
// usable at all; there is no partial trust.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/legalmesh/warden/pkg/merkle"
)

// Claims are the attested contents of a plan token. The step list is
// ordered and may contain duplicates; order is preserved for step-index
// correlation with merkle proofs.
type Claims struct {
	jwt.RegisteredClaims
	PlanHash   string   `json:"plan_hash"`
	Steps      []string `json:"steps"`
	MerkleRoot string   `json:"merkle_root,omitempty"`
}

// Commitment is the issued attestation: the opaque signed token plus the
// claims it was issued over. Consumed read-only by the core.
type Commitment struct {
	Token      string          `json:"token"`
	PlanHash   string          `json:"plan_hash"`
	Steps      []string        `json:"steps"`
	MerkleRoot string          `json:"merkle_root,omitempty"`
	Proofs     []*merkle.Proof `json:"step_proofs,omitempty"` // per-step inclusion proofs, advisory
}

// HashSteps returns the digest of the full ordered step list, the
// plan_hash bound into the token.
func HashSteps(steps []string) string {
	h := sha256.New()
	for i, s := range steps {
		// NUL-separated to keep ["ab","c"] distinct from ["a","bc"].
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(s))
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// TokenDigest returns a short hash prefix of an opaque token string, used
// to correlate decisions and ledger entries with the commitment that
// authorized them. Empty input yields empty output.
func TokenDigest(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

// ContainsStep checks membership of action in the committed step list.
// Presence only, not position: plans may legitimately reorder independent
// steps. Matching is exact identifier equality — no prefix or fuzzy match
// may ever count as authorization.
func ContainsStep(steps []string, action string) bool {
	for _, s := range steps {
		if s == action {
			return true
		}
	}
	return false
}

// StepIndex returns the first committed index of action, or -1.
func StepIndex(steps []string, action string) int {
	for i, s := range steps {
		if s == action {
			return i
		}
	}
	return -1
}

// parseUnverified extracts claims without validating the signature. Used
// only for step-membership lookups after Verify has already established
// trust in the token; never a substitute for verification.
func parseUnverified(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil, err
	}
	return claims, nil
}
