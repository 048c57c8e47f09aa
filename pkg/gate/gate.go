// Package gate is the execution boundary. A permissive policy decision is
// not sufficient to run a tool: the gate independently re-verifies the
// plan token at execution time and checks that the action is a member of
// the committed step list. An allowed action outside the committed plan is
// intent drift and is refused.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/legalmesh/warden/pkg/decision"
	"github.com/legalmesh/warden/pkg/intent"
	"github.com/legalmesh/warden/pkg/merkle"
	"github.com/legalmesh/warden/pkg/plan"
)

// ErrNotAllowed is returned when the gate is handed a decision that does
// not permit execution. The gate never runs a blocked intent.
var ErrNotAllowed = errors.New("gate: decision does not permit execution")

// ErrNoDispatcher is returned when no tool dispatcher is wired. Absence
// of an executor refuses execution rather than silently succeeding.
var ErrNoDispatcher = errors.New("gate: no dispatcher configured")

// Dispatcher executes an admitted intent against a concrete tool.
type Dispatcher interface {
	Dispatch(ctx context.Context, it intent.Intent) (string, error)
}

// Outcome is the gate's judgment plus the tool result when admitted.
// Refused is a policy outcome, not an error; callers fold it into a new
// blocking decision.
type Outcome struct {
	Admitted  bool
	Kind      decision.Kind
	Reasoning string
	Result    string
}

// Gate re-checks the plan commitment and dispatches admitted intents.
type Gate struct {
	verifier   *plan.Verifier
	dispatcher Dispatcher
	logger     *slog.Logger
}

// New builds a Gate. The verifier must be the same fail-closed wrapper
// the policy stage uses; the gate's check is deliberately independent of
// the policy stage's result.
func New(verifier *plan.Verifier, dispatcher Dispatcher, logger *slog.Logger) *Gate {
	if verifier == nil {
		verifier = plan.NewVerifier(nil, 0, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{verifier: verifier, dispatcher: dispatcher, logger: logger}
}

// Admit re-verifies the token, checks step membership, and dispatches.
// proof, when present, is checked against the token's committed merkle
// root as corroborating evidence; its absence degrades the audit trail
// but membership on the verified claims alone decides admission.
func (g *Gate) Admit(ctx context.Context, it intent.Intent, d decision.Decision, token string, proof *merkle.Proof) (Outcome, error) {
	if !d.Allowed() {
		return Outcome{}, ErrNotAllowed
	}

	switch status := g.verifier.Check(ctx, token); status {
	case plan.StatusValid:
		if !g.verifier.ContainsStep(token, it.Action) {
			g.logger.Warn("intent drift detected",
				"intent_id", it.ID,
				"action", it.Action,
				"token_digest", plan.TokenDigest(token))
			return Outcome{
				Admitted:  false,
				Kind:      decision.KindIntentDrift,
				Reasoning: fmt.Sprintf("action %q is not among the committed plan steps", it.Action),
			}, nil
		}
		g.checkProof(it, token, proof)
	case plan.StatusUnattested:
		g.logger.Warn("executing without plan attestation",
			"intent_id", it.ID, "action", it.Action)
	default:
		return Outcome{
			Admitted:  false,
			Kind:      decision.KindTokenInvalid,
			Reasoning: "plan token failed re-verification at the execution boundary",
		}, nil
	}

	if g.dispatcher == nil {
		return Outcome{}, ErrNoDispatcher
	}

	result, err := g.dispatcher.Dispatch(ctx, it)
	if err != nil {
		return Outcome{}, fmt.Errorf("gate: dispatch %s: %w", it.Action, err)
	}
	return Outcome{Admitted: true, Kind: decision.KindAllowedDefault, Result: result}, nil
}

// checkProof validates the per-step merkle proof against the token's
// committed root. Advisory: a missing or failing proof is logged as
// degraded evidence, never a refusal, since membership was already
// established on the signed claims.
func (g *Gate) checkProof(it intent.Intent, token string, proof *merkle.Proof) {
	root := g.verifier.MerkleRoot(token)
	if proof == nil {
		g.logger.Warn("no step proof presented; audit evidence degraded",
			"intent_id", it.ID, "action", it.Action)
		return
	}
	if root == "" || !merkle.VerifyProof(proof, root) {
		g.logger.Error("step proof does not verify against committed root",
			"intent_id", it.ID, "action", it.Action, "root", root)
		return
	}
	g.logger.Debug("step proof verified",
		"intent_id", it.ID, "action", it.Action, "step_index", proof.StepIndex)
}
