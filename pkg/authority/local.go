// Package authority provides implementations of the plan.Authority
// boundary: an in-process Ed25519 issuer for development and tests, and an
// HTTP client for a remote signing service. The core trusts neither; every
// caller treats verification failure, timeout, or absence identically
// (fail-closed).
package authority

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/legalmesh/warden/pkg/merkle"
	"github.com/legalmesh/warden/pkg/plan"
)

const issuerName = "warden/authority"

// LocalAuthority issues and verifies Ed25519-signed plan tokens entirely
// in process. This is the degraded-infrastructure mode: same token format
// and semantics as the remote authority, no network dependency.
type LocalAuthority struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
	clock func() time.Time
}

// NewLocalAuthority generates a fresh signing key.
func NewLocalAuthority() (*LocalAuthority, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("authority: key generation: %w", err)
	}
	return &LocalAuthority{
		priv:  priv,
		pub:   pub,
		keyID: uuid.NewString()[:8],
		clock: time.Now,
	}, nil
}

// WithClock overrides the clock for expiry tests.
func (a *LocalAuthority) WithClock(clock func() time.Time) *LocalAuthority {
	a.clock = clock
	return a
}

// Commit signs the ordered step list into a plan token. The token binds
// the plan hash, the step list, and a merkle root over the steps;
// per-step inclusion proofs ride alongside as advisory evidence.
func (a *LocalAuthority) Commit(ctx context.Context, steps []string, validity time.Duration) (*plan.Commitment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("authority: refusing to commit an empty plan")
	}
	if validity <= 0 {
		validity = 5 * time.Minute
	}

	now := a.clock().UTC()
	tree := merkle.Build(steps)
	claims := plan.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		PlanHash:   plan.HashSteps(steps),
		Steps:      append([]string(nil), steps...),
		MerkleRoot: tree.Root,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = a.keyID
	signed, err := token.SignedString(a.priv)
	if err != nil {
		return nil, fmt.Errorf("authority: sign plan: %w", err)
	}

	proofs := make([]*merkle.Proof, len(steps))
	for i := range steps {
		if p, perr := tree.ProveStep(i); perr == nil {
			proofs[i] = p
		}
	}

	return &plan.Commitment{
		Token:      signed,
		PlanHash:   claims.PlanHash,
		Steps:      claims.Steps,
		MerkleRoot: tree.Root,
		Proofs:     proofs,
	}, nil
}

// Verify checks signature and expiry. Anything short of a fully valid
// token returns false.
func (a *LocalAuthority) Verify(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	parsed, err := jwt.ParseWithClaims(token, &plan.Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.pub, nil
		},
		jwt.WithTimeFunc(a.clock),
		jwt.WithIssuer(issuerName),
	)
	if err != nil {
		return false, nil // not trustworthy, not an infrastructure error
	}
	return parsed.Valid, nil
}

// PublicKey exposes the verification key for out-of-process verifiers.
func (a *LocalAuthority) PublicKey() ed25519.PublicKey { return a.pub }
