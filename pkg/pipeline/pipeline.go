// Package pipeline wires the authorization stages into the single entry
// point agents submit intents through: validate, screen, evaluate, gate,
// and record. One submitted intent yields exactly one final decision and
// exactly one ledger node; a gate refusal supersedes the preliminary
// permissive decision rather than appearing alongside it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/legalmesh/warden/pkg/decision"
	"github.com/legalmesh/warden/pkg/gate"
	"github.com/legalmesh/warden/pkg/intent"
	"github.com/legalmesh/warden/pkg/ledger"
	"github.com/legalmesh/warden/pkg/merkle"
	"github.com/legalmesh/warden/pkg/plan"
	"github.com/legalmesh/warden/pkg/policy"
	"github.com/legalmesh/warden/pkg/screener"
)

// Result is the full outcome of one submission: the final decision, the
// ledger node that recorded it, and the tool output when execution was
// admitted.
type Result struct {
	Decision decision.Decision
	Node     ledger.Node
	Output   string
}

// Pipeline orchestrates one authorization cycle per submitted intent.
// Safe for concurrent use; ledger appends serialize inside the ledger.
type Pipeline struct {
	evaluator *policy.Evaluator
	gate      *gate.Gate
	ledger    *ledger.Ledger
	logger    *slog.Logger
	tracer    trace.Tracer
	decisions metric.Int64Counter
}

// New assembles a pipeline over its stages.
func New(evaluator *policy.Evaluator, g *gate.Gate, l *ledger.Ledger, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	decisions, err := otel.Meter("warden/pipeline").Int64Counter("warden.decisions",
		metric.WithDescription("authorization decisions by enforcement kind"))
	if err != nil {
		return nil, fmt.Errorf("pipeline: decisions counter: %w", err)
	}
	return &Pipeline{
		evaluator: evaluator,
		gate:      g,
		ledger:    l,
		logger:    logger,
		tracer:    otel.Tracer("warden/pipeline"),
		decisions: decisions,
	}, nil
}

// Submit pushes one intent through the full authorization cycle. A
// blocking decision is a normal outcome, returned with a nil error;
// errors are reserved for contract violations and infrastructure
// failures. Whatever the path, at most one ledger node is appended.
func (p *Pipeline) Submit(ctx context.Context, it intent.Intent, token string, proof *merkle.Proof) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "warden.submit", trace.WithAttributes(
		attribute.String("intent.id", it.ID),
		attribute.String("intent.action", it.Action),
		attribute.String("intent.initiator", it.Initiator),
	))
	defer span.End()

	if err := it.Validate(); err != nil {
		return Result{}, err
	}

	// Injection screening precedes policy: flagged content never reaches
	// the evaluator, whatever the action's standing on the allow list.
	if scan := screener.Scan(it.Content); scan.Flagged {
		d := p.screeningDecision(it, scan)
		return p.record(ctx, span, d, "")
	}

	d := p.evaluator.Evaluate(ctx, it, token)
	if !d.Allowed() {
		return p.record(ctx, span, d, "")
	}

	out, err := p.gate.Admit(ctx, it, d, token, proof)
	if err != nil {
		// Authorization completed; the failure is operational. Record the
		// permissive decision, then surface the error.
		res, recordErr := p.record(ctx, span, d, "")
		if recordErr != nil {
			return res, fmt.Errorf("pipeline: %w (ledger: %v)", err, recordErr)
		}
		return res, err
	}
	if !out.Admitted {
		refusal := d
		refusal.Verdict = decision.VerdictBlocked
		refusal.Kind = out.Kind
		refusal.Reasoning = out.Reasoning
		if token != "" {
			refusal.TokenDigest = plan.TokenDigest(token)
		}
		return p.record(ctx, span, refusal, "")
	}
	return p.record(ctx, span, d, out.Result)
}

func (p *Pipeline) screeningDecision(it intent.Intent, scan screener.Result) decision.Decision {
	return decision.Decision{
		IntentID:    it.ID,
		CaseID:      it.CaseID,
		Action:      it.Action,
		Initiator:   it.Initiator,
		DelegatedBy: it.DelegatedBy,
		Verdict:     decision.VerdictBlocked,
		Kind:        decision.KindInjection,
		Reasoning: fmt.Sprintf("%s (category %s, confidence %.2f, excerpt %q)",
			scan.Explanation, scan.Category, scan.Confidence, scan.Excerpt),
		Timestamp: it.CreatedAt,
	}
}

func (p *Pipeline) record(ctx context.Context, span trace.Span, d decision.Decision, output string) (Result, error) {
	node, err := p.ledger.Append(ctx, d)
	if err != nil {
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("decision.verdict", string(d.Verdict)),
		attribute.String("decision.kind", string(d.Kind)),
		attribute.String("ledger.node_hash", node.NodeHash),
	)
	p.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(d.Kind)),
		attribute.String("verdict", string(d.Verdict)),
	))
	p.logger.Info("decision recorded",
		"intent_id", d.IntentID,
		"action", d.Action,
		"verdict", d.Verdict,
		"kind", d.Kind,
		"node_hash", node.NodeHash,
		"sequence", node.Sequence)

	return Result{Decision: node.Decision, Node: node, Output: output}, nil
}
