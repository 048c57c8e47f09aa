// Package tools provides the tool registry the execution gate dispatches
// admitted intents into. Tools are the only effectful surface of the
// system; everything upstream of the registry is pure judgment.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/legalmesh/warden/pkg/intent"
)

// ErrUnknownTool is returned when no handler is registered for an
// intent's action.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Handler executes one tool invocation.
type Handler func(ctx context.Context, it intent.Intent) (string, error)

// Registry maps actions to handlers. Registration happens at startup;
// dispatch is concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{handlers: make(map[string]Handler), logger: logger}
}

// Register binds a handler to an action name. Re-registering an action
// replaces the previous handler.
func (r *Registry) Register(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Actions lists registered actions in sorted order.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Dispatch routes an admitted intent to its handler. An unregistered
// action is an error, never a silent no-op.
func (r *Registry) Dispatch(ctx context.Context, it intent.Intent) (string, error) {
	r.mu.RLock()
	h, ok := r.handlers[it.Action]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, it.Action)
	}

	r.logger.Info("dispatching tool", "action", it.Action, "intent_id", it.ID, "target", it.Target)
	return h(ctx, it)
}

// Stub returns a handler that reports the invocation without side
// effects. Used for demonstrations and tests of the authorization path.
func Stub(description string) Handler {
	return func(ctx context.Context, it intent.Intent) (string, error) {
		return fmt.Sprintf("%s: %s -> %s", description, it.Action, it.Target), nil
	}
}

// DefaultRegistry builds a registry covering the legal-practice tool
// surface with stub handlers.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	for action, description := range map[string]string{
		"draft_document":         "drafted document",
		"search_case_law":        "case law search completed",
		"advise_client":          "advisory note prepared",
		"summarize_case":         "case summary prepared",
		"read_case_files":        "case files read",
		"research_precedents":    "precedent research completed",
		"summarize_precedents":   "precedent summary prepared",
		"analyze_contract":       "contract analysis completed",
		"calculate_damages":      "damages calculation completed",
		"draft_bail_application": "bail application drafted",
		"review_evidence":        "evidence review completed",
		"file_motion":            "motion filed",
		"prepare_strategy":       "strategy memo prepared",
		"send_legal_notice":      "legal notice sent",
		"send_communication":     "communication sent",
		"search_legal_knowledge": "knowledge base search completed",
	} {
		r.Register(action, Stub(description))
	}
	return r
}
