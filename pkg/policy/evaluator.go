package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/legalmesh/warden/pkg/decision"
	"github.com/legalmesh/warden/pkg/intent"
	"github.com/legalmesh/warden/pkg/plan"
)

// Evaluator runs the fixed-order authorization stages over an intent and
// the active ruleset snapshot. Stage order is part of the contract:
//
//	delegation scope -> time window -> block list -> allow list -> token
//
// The first failing stage decides; no later stage can override an earlier
// block. Evaluation is pure policy over the snapshot plus one bounded
// token verification call; it never mutates the intent or the ruleset.
type Evaluator struct {
	store    *Store
	verifier *plan.Verifier
	clock    func() time.Time
	strict   bool
	logger   *slog.Logger
}

// NewEvaluator builds an Evaluator over a ruleset store. A nil verifier
// treats every intent as unattested.
func NewEvaluator(store *Store, verifier *plan.Verifier, logger *slog.Logger) *Evaluator {
	if verifier == nil {
		verifier = plan.NewVerifier(nil, 0, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, verifier: verifier, clock: time.Now, logger: logger}
}

// WithClock overrides the time source. Test hook.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

// WithStrictAttestation makes every unattested intent block, not just
// the actions on the ruleset's attestation list. Jurisdictions that
// mandate plan commitments for all agent activity set this through
// their practice profile.
func (e *Evaluator) WithStrictAttestation(on bool) *Evaluator {
	e.strict = on
	return e
}

// Snapshot exposes the ruleset the evaluator is currently judging against.
func (e *Evaluator) Snapshot() *Ruleset { return e.store.Snapshot() }

// Evaluate judges one intent against the active ruleset snapshot. The
// returned Decision carries exactly one enforcement kind: the first check
// that fired, or ALLOWED_DEFAULT when every stage passes.
func (e *Evaluator) Evaluate(ctx context.Context, it intent.Intent, token string) decision.Decision {
	rs := e.store.Snapshot()
	d := e.evaluate(ctx, it, rs, token)

	e.logger.Info("policy evaluated",
		"intent_id", it.ID,
		"action", it.Action,
		"initiator", it.Initiator,
		"verdict", d.Verdict,
		"kind", d.Kind,
		"ruleset", rs.Version)
	return d
}

func (e *Evaluator) evaluate(ctx context.Context, it intent.Intent, rs *Ruleset, token string) decision.Decision {
	base := decision.Decision{
		IntentID:    it.ID,
		CaseID:      it.CaseID,
		Action:      it.Action,
		Initiator:   it.Initiator,
		DelegatedBy: it.DelegatedBy,
		Timestamp:   e.clock().UTC(),
	}

	// Stage 1: delegation scope. For delegated intents the scope set is
	// the entire permission surface; an absent scope blocks outright.
	if it.Delegated() {
		scope, ok := rs.Scope(it.Initiator)
		if !ok {
			return blocked(base, decision.KindDelegationExceeded, "",
				fmt.Sprintf("role %q has no delegation scope; delegated intents are denied by default", it.Initiator))
		}
		if !contains(scope, it.Action) {
			return blocked(base, decision.KindDelegationExceeded, "",
				fmt.Sprintf("action %q exceeds the delegation scope of role %q", it.Action, it.Initiator))
		}
	}

	// Stage 2: time window. Half-open [start, end) in the window's zone.
	if w, ok := rs.TimeWindows[it.Action]; ok {
		if !w.Contains(e.clock()) {
			return blocked(base, decision.KindTimeConstraint, "",
				fmt.Sprintf("action %q is restricted to %02d:00-%02d:00 %s", it.Action, w.StartHour, w.EndHour, w.Timezone))
		}
	}

	// Stage 3: curated block list. Wins over allow-list membership.
	if cite, ok := rs.Blocked(it.Action); ok {
		return blocked(base, decision.KindHardBlock, cite,
			fmt.Sprintf("action %q is prohibited: %s", it.Action, cite))
	}

	// Stage 4: allow list. Absence is a fail-closed default denial.
	if !rs.Allowed(it.Action) {
		return blocked(base, decision.KindHardBlock, "",
			fmt.Sprintf("action %q is not in the authorized action list; denied by default", it.Action))
	}

	// Stage 5: plan token. Invalid always blocks; unattested blocks only
	// for action classes that demand attestation.
	switch status := e.verifier.Check(ctx, token); status {
	case plan.StatusValid:
		base.TokenDigest = plan.TokenDigest(token)
	case plan.StatusUnattested:
		if e.strict {
			return blocked(base, decision.KindTokenInvalid, "",
				"strict attestation is in force; every intent requires a verified plan token")
		}
		if rs.AttestationRequired(it.Action) {
			return blocked(base, decision.KindTokenInvalid, "",
				fmt.Sprintf("action %q requires an attested plan but no token was presented", it.Action))
		}
		e.logger.Warn("intent proceeding unattested",
			"intent_id", it.ID, "action", it.Action)
	default:
		return blocked(base, decision.KindTokenInvalid, "",
			"plan token failed verification")
	}

	base.Verdict = decision.VerdictAllowed
	base.Kind = decision.KindAllowedDefault
	base.Reasoning = fmt.Sprintf("action %q passed all authorization stages", it.Action)
	return base
}

func blocked(base decision.Decision, kind decision.Kind, ruleRef, reasoning string) decision.Decision {
	base.Verdict = decision.VerdictBlocked
	base.Kind = kind
	base.RuleRef = ruleRef
	base.Reasoning = reasoning
	return base
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
