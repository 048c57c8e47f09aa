// Package policy holds the versioned ruleset and the multi-stage
// evaluator. Rules are a small closed set of constraint kinds —
// membership, delegation scope, time window — evaluated in a fixed
// priority order. This is not an expression language: malformed rulesets
// are rejected at load time, never at evaluation time.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TimeWindow restricts an action to [StartHour, EndHour) in a named
// timezone. EndHour < StartHour describes a window that wraps midnight.
type TimeWindow struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Timezone  string `json:"timezone"`
}

// Contains reports whether t falls inside the window, evaluated in the
// window's own timezone. Half-open: exactly StartHour is in, exactly
// EndHour is out.
func (w TimeWindow) Contains(t time.Time) bool {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		// Unresolvable timezone fails closed.
		return false
	}
	hour := t.In(loc).Hour()
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// Ruleset is the versioned policy document. Loaded once per evaluation
// cycle and immutable during it; reloads swap the whole snapshot.
type Ruleset struct {
	Version            string                `json:"version"`
	AllowedActions     []string              `json:"allowed_actions"`
	BlockedActions     map[string]string     `json:"blocked_actions"` // action -> legal/ethical citation
	DelegationScopes   map[string][]string   `json:"delegation_scopes"`
	TimeWindows        map[string]TimeWindow `json:"time_windows,omitempty"`
	RequireAttestation []string              `json:"require_attestation,omitempty"`

	allowed  map[string]struct{}
	attested map[string]struct{}
	hash     string
}

// Allowed reports membership in the allow list.
func (r *Ruleset) Allowed(action string) bool {
	_, ok := r.allowed[action]
	return ok
}

// Blocked returns the citation for a blocked action. Block membership
// takes precedence over allow membership (fail-closed tie-break).
func (r *Ruleset) Blocked(action string) (string, bool) {
	cite, ok := r.BlockedActions[action]
	return cite, ok
}

// Scope returns the delegation scope for a delegate role. The scope set
// is the entire permission surface available to delegated intents; the
// delegator's allow list is never inherited.
func (r *Ruleset) Scope(role string) ([]string, bool) {
	scope, ok := r.DelegationScopes[role]
	return scope, ok
}

// AttestationRequired reports whether the action class demands a valid
// plan token: unattested intents for these actions are blocked.
func (r *Ruleset) AttestationRequired(action string) bool {
	_, ok := r.attested[action]
	return ok
}

// Hash is the content-addressed identity of this ruleset snapshot.
func (r *Ruleset) Hash() string { return r.hash }

// index builds lookup sets and the content hash after a successful parse.
func (r *Ruleset) index() error {
	r.allowed = make(map[string]struct{}, len(r.AllowedActions))
	for _, a := range r.AllowedActions {
		r.allowed[a] = struct{}{}
	}
	r.attested = make(map[string]struct{}, len(r.RequireAttestation))
	for _, a := range r.RequireAttestation {
		r.attested[a] = struct{}{}
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("policy: marshal ruleset: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("policy: canonicalize ruleset: %w", err)
	}
	sum := sha256.Sum256(canonical)
	r.hash = "sha256:" + hex.EncodeToString(sum[:])
	return nil
}

// validate runs the load-time checks the evaluator relies on, so that
// evaluation itself can never hit a malformed rule.
func (r *Ruleset) validate() error {
	if _, err := semver.NewVersion(r.Version); err != nil {
		return fmt.Errorf("policy: invalid version %q: %w", r.Version, err)
	}
	for action, w := range r.TimeWindows {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
			return fmt.Errorf("policy: time window for %q out of range", action)
		}
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("policy: time window for %q: unknown timezone %q", action, w.Timezone)
		}
	}
	return nil
}

// rulesetSchema is the load-time contract for ruleset documents.
const rulesetSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "allowed_actions", "blocked_actions", "delegation_scopes"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "allowed_actions": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "blocked_actions": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "delegation_scopes": {
      "type": "object",
      "additionalProperties": {"type": "array", "items": {"type": "string", "minLength": 1}}
    },
    "time_windows": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["start_hour", "end_hour", "timezone"],
        "properties": {
          "start_hour": {"type": "integer", "minimum": 0, "maximum": 23},
          "end_hour": {"type": "integer", "minimum": 0, "maximum": 24},
          "timezone": {"type": "string", "minLength": 1}
        }
      }
    },
    "require_attestation": {"type": "array", "items": {"type": "string", "minLength": 1}}
  },
  "additionalProperties": false
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("warden://policy/ruleset.schema.json", strings.NewReader(rulesetSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile("warden://policy/ruleset.schema.json")
}

// Parse validates and indexes a ruleset document.
func Parse(data []byte) (*Ruleset, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("policy: parse ruleset: %w", err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("policy: ruleset schema violation: %w", err)
	}

	var rs Ruleset
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("policy: decode ruleset: %w", err)
	}
	if err := rs.validate(); err != nil {
		return nil, err
	}
	if err := rs.index(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// LoadFile reads and parses a ruleset document from disk.
func LoadFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read ruleset %s: %w", path, err)
	}
	return Parse(data)
}

// Store holds the active ruleset snapshot. Reloads are atomic pointer
// swaps: readers never observe a half-updated ruleset, and in-flight
// evaluations keep the snapshot they started with.
type Store struct {
	current atomic.Pointer[Ruleset]
}

// NewStore creates a store with an initial snapshot.
func NewStore(rs *Ruleset) *Store {
	s := &Store{}
	s.current.Store(rs)
	return s
}

// Snapshot returns the active ruleset.
func (s *Store) Snapshot() *Ruleset { return s.current.Load() }

// Replace atomically installs a new snapshot.
func (s *Store) Replace(rs *Ruleset) { s.current.Store(rs) }

// ReloadFile parses path and installs the result only if valid.
func (s *Store) ReloadFile(path string) error {
	rs, err := LoadFile(path)
	if err != nil {
		return err
	}
	s.current.Store(rs)
	return nil
}
