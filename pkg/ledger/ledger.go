// Package ledger implements the append-only audit ledger: a hash chain of
// authorization decisions. Every decision, permissive or blocking, becomes
// exactly one node; each node binds the canonical decision payload to its
// predecessor, so rewriting history at any index invalidates every node
// from that index onward.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/legalmesh/warden/pkg/decision"
)

// ErrIntegrity marks a chain whose recomputed hashes diverge from the
// recorded ones.
var ErrIntegrity = errors.New("ledger integrity violation")

// genesisPrev anchors the first node of every chain.
var genesisPrev = hashString("genesis")

// Node is one link of the audit chain.
type Node struct {
	Sequence    uint64            `json:"sequence"`
	Timestamp   time.Time         `json:"timestamp"`
	Decision    decision.Decision `json:"decision"`
	PrevHash    string            `json:"prev_hash"`
	PayloadHash string            `json:"payload_hash"`
	NodeHash    string            `json:"node_hash"`
}

// Store persists ledger nodes. Implementations append only; there is no
// update or delete surface.
type Store interface {
	AppendNode(ctx context.Context, n Node) error
	LoadNodes(ctx context.Context) ([]Node, error)
}

// Ledger is the single-writer chain head. All appends serialize through
// one mutex; concurrent submissions contend here rather than fork the
// chain. Reads return copies.
type Ledger struct {
	mu     sync.RWMutex
	nodes  []Node
	store  Store
	clock  func() time.Time
	logger *slog.Logger
}

// New creates an empty ledger. store may be nil for in-memory operation.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, clock: time.Now, logger: logger}
}

// WithClock overrides the time source. Test hook.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Load replays persisted nodes into the chain head and verifies the
// replayed chain before accepting it. Called once at startup, before any
// Append.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	nodes, err := l.store.LoadNodes(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load: %w", err)
	}
	if err := verify(nodes); err != nil {
		return err
	}

	l.mu.Lock()
	l.nodes = nodes
	l.mu.Unlock()

	l.logger.Info("ledger replayed", "nodes", len(nodes))
	return nil
}

// Append folds a decision into the chain and returns the new node. The
// node is durably persisted before the in-memory head advances; a store
// failure leaves the chain unchanged.
func (l *Ledger) Append(ctx context.Context, d decision.Decision) (Node, error) {
	payloadHash, err := d.PayloadHash()
	if err != nil {
		return Node{}, fmt.Errorf("ledger: payload hash: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := genesisPrev
	if n := len(l.nodes); n > 0 {
		prev = l.nodes[n-1].NodeHash
	}

	node := Node{
		Sequence:    uint64(len(l.nodes)),
		Timestamp:   l.clock().UTC(),
		Decision:    d,
		PrevHash:    prev,
		PayloadHash: payloadHash,
		NodeHash:    nodeHash(prev, payloadHash),
	}
	node.Decision.LedgerNodeHash = node.NodeHash

	if l.store != nil {
		if err := l.store.AppendNode(ctx, node); err != nil {
			return Node{}, fmt.Errorf("ledger: persist node %d: %w", node.Sequence, err)
		}
	}
	l.nodes = append(l.nodes, node)
	return node, nil
}

// Root returns the chain head hash, or the genesis anchor for an empty
// chain.
func (l *Ledger) Root() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.nodes) == 0 {
		return genesisPrev
	}
	return l.nodes[len(l.nodes)-1].NodeHash
}

// Len returns the number of nodes in the chain.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.nodes)
}

// Nodes returns a copy of the chain.
func (l *Ledger) Nodes() []Node {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Node, len(l.nodes))
	copy(out, l.nodes)
	return out
}

// VerifyChain recomputes every hash in the chain from the decision
// payloads and linkage. Returns nil only when the recorded chain matches
// the recomputation exactly.
func (l *Ledger) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verify(l.nodes)
}

func verify(nodes []Node) error {
	prev := genesisPrev
	for i, n := range nodes {
		if n.Sequence != uint64(i) {
			return fmt.Errorf("%w: node %d carries sequence %d", ErrIntegrity, i, n.Sequence)
		}
		if n.PrevHash != prev {
			return fmt.Errorf("%w: node %d prev hash mismatch", ErrIntegrity, i)
		}
		payloadHash, err := n.Decision.PayloadHash()
		if err != nil {
			return fmt.Errorf("%w: node %d payload: %v", ErrIntegrity, i, err)
		}
		if n.PayloadHash != payloadHash {
			return fmt.Errorf("%w: node %d payload hash mismatch", ErrIntegrity, i)
		}
		if n.NodeHash != nodeHash(n.PrevHash, n.PayloadHash) {
			return fmt.Errorf("%w: node %d hash mismatch", ErrIntegrity, i)
		}
		prev = n.NodeHash
	}
	return nil
}

func nodeHash(prevHash, payloadHash string) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(payloadHash))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(sum[:])
}
