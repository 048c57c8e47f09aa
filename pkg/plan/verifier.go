package plan

import (
	"context"
	"log/slog"
	"time"
)

// Status is the trust state of a token as seen by the verifier.
type Status int

const (
	// StatusInvalid — token present but not currently trustworthy:
	// expired, signature mismatch, or the authority rejected it (including
	// timeouts; a timeout is treated identically to a failure).
	StatusInvalid Status = iota
	// StatusValid — signature verifies and the token has not expired.
	StatusValid
	// StatusUnattested — no token was issued for this cycle (degraded
	// mode, authority unreachable at planning time). Explicitly signalled,
	// never silently mapped to valid; policy decides per action class
	// whether unattested intents may proceed.
	StatusUnattested
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusUnattested:
		return "unattested"
	default:
		return "invalid"
	}
}

// Authority is the external signing authority boundary. Both operations
// are opaque calls the core treats as untrusted network I/O.
type Authority interface {
	// Commit registers an ordered step list and returns a signed
	// commitment.
	Commit(ctx context.Context, steps []string, validity time.Duration) (*Commitment, error)
	// Verify checks a token's signature and expiry.
	Verify(ctx context.Context, token string) (bool, error)
}

// Verifier wraps an Authority with bounded timeouts and fail-closed
// semantics. Safe for concurrent use.
type Verifier struct {
	authority Authority
	timeout   time.Duration
	logger    *slog.Logger
}

// NewVerifier builds a Verifier. A nil authority is legal and yields
// StatusUnattested for every token (fully degraded mode).
func NewVerifier(authority Authority, timeout time.Duration, logger *slog.Logger) *Verifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{authority: authority, timeout: timeout, logger: logger}
}

// Check classifies a token. An empty token or absent authority is
// unattested; every failure mode of the authority call — error, timeout,
// or explicit rejection — is invalid. There is no path from a failed
// verification to StatusValid.
func (v *Verifier) Check(ctx context.Context, token string) Status {
	if token == "" || v.authority == nil {
		return StatusUnattested
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ok, err := v.authority.Verify(ctx, token)
	if err != nil {
		v.logger.Warn("plan token verification failed closed",
			"token_digest", TokenDigest(token), "err", err)
		return StatusInvalid
	}
	if !ok {
		return StatusInvalid
	}
	return StatusValid
}

// Verify reports whether the token is currently trustworthy. Callers
// needing the unattested distinction use Check.
func (v *Verifier) Verify(ctx context.Context, token string) bool {
	return v.Check(ctx, token) == StatusValid
}

// ContainsStep reports whether action is a member of the token's committed
// step list. Only meaningful after Verify/Check has established trust; an
// unparseable token contains nothing.
func (v *Verifier) ContainsStep(token, action string) bool {
	claims, err := parseUnverified(token)
	if err != nil {
		return false
	}
	return ContainsStep(claims.Steps, action)
}

// CommittedSteps returns the token's step list for proof correlation, or
// nil when the token cannot be parsed.
func (v *Verifier) CommittedSteps(token string) []string {
	claims, err := parseUnverified(token)
	if err != nil {
		return nil
	}
	return claims.Steps
}

// MerkleRoot returns the token's committed merkle root, if any.
func (v *Verifier) MerkleRoot(token string) string {
	claims, err := parseUnverified(token)
	if err != nil {
		return ""
	}
	return claims.MerkleRoot
}
