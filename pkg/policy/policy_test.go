package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalmesh/warden/pkg/decision"
	"github.com/legalmesh/warden/pkg/intent"
	"github.com/legalmesh/warden/pkg/plan"
)

const sampleRuleset = `{
  "version": "1.2.0",
  "allowed_actions": [
    "search_case_law", "read_case_files", "draft_document",
    "summarize_case", "research_precedents", "file_motion",
    "send_legal_notice", "contact_witness"
  ],
  "blocked_actions": {
    "fabricate_evidence": "IPC Section 192 - Fabricating False Evidence",
    "contact_witness": "Rule 4.2 - No Contact with Represented Person"
  },
  "delegation_scopes": {
    "research_agent": ["search_case_law", "read_case_files", "summarize_precedents"]
  },
  "time_windows": {
    "file_motion": {"start_hour": 9, "end_hour": 17, "timezone": "UTC"}
  },
  "require_attestation": ["send_legal_notice"]
}`

type fakeAuthority struct {
	verdicts map[string]bool
	err      error
}

func (f *fakeAuthority) Commit(ctx context.Context, steps []string, validity time.Duration) (*plan.Commitment, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAuthority) Verify(ctx context.Context, token string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.verdicts[token], nil
}

func newEvaluator(t *testing.T, auth plan.Authority) *Evaluator {
	t.Helper()
	rs, err := Parse([]byte(sampleRuleset))
	require.NoError(t, err)
	var verifier *plan.Verifier
	if auth != nil {
		verifier = plan.NewVerifier(auth, time.Second, nil)
	}
	e := NewEvaluator(NewStore(rs), verifier, nil)
	// Fixed weekday, 11:00 UTC, inside every configured window.
	return e.WithClock(func() time.Time {
		return time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	})
}

func TestParseRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"not json":            `{"version":`,
		"missing version":     `{"allowed_actions": [], "blocked_actions": {}, "delegation_scopes": {}}`,
		"bad semver":          `{"version": "one", "allowed_actions": [], "blocked_actions": {}, "delegation_scopes": {}}`,
		"unknown field":       `{"version": "1.0.0", "allowed_actions": [], "blocked_actions": {}, "delegation_scopes": {}, "extras": true}`,
		"bad timezone":        `{"version": "1.0.0", "allowed_actions": [], "blocked_actions": {}, "delegation_scopes": {}, "time_windows": {"x": {"start_hour": 1, "end_hour": 2, "timezone": "Nowhere/Zone"}}}`,
		"hour out of range":   `{"version": "1.0.0", "allowed_actions": [], "blocked_actions": {}, "delegation_scopes": {}, "time_windows": {"x": {"start_hour": -1, "end_hour": 2, "timezone": "UTC"}}}`,
		"non-string citation": `{"version": "1.0.0", "allowed_actions": [], "blocked_actions": {"x": 42}, "delegation_scopes": {}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseIndexesRuleset(t *testing.T) {
	rs, err := Parse([]byte(sampleRuleset))
	require.NoError(t, err)

	assert.True(t, rs.Allowed("search_case_law"))
	assert.False(t, rs.Allowed("fabricate_evidence"))

	cite, blocked := rs.Blocked("fabricate_evidence")
	assert.True(t, blocked)
	assert.Contains(t, cite, "IPC Section 192")

	assert.True(t, rs.AttestationRequired("send_legal_notice"))
	assert.False(t, rs.AttestationRequired("draft_document"))

	assert.NotEmpty(t, rs.Hash())

	again, err := Parse([]byte(sampleRuleset))
	require.NoError(t, err)
	assert.Equal(t, rs.Hash(), again.Hash())
}

func TestEvaluateAllowsListedAction(t *testing.T) {
	e := newEvaluator(t, nil)
	it := intent.New("search_case_law", "lead_lawyer", "case-db", "precedents on bail", "case-7")

	d := e.Evaluate(context.Background(), it, "")
	assert.Equal(t, decision.VerdictAllowed, d.Verdict)
	assert.Equal(t, decision.KindAllowedDefault, d.Kind)
	assert.Empty(t, d.TokenDigest)
}

func TestEvaluateFailsClosedOnUnknownAction(t *testing.T) {
	e := newEvaluator(t, nil)
	it := intent.New("transfer_funds", "lead_lawyer", "bank", "", "case-7")

	d := e.Evaluate(context.Background(), it, "")
	assert.Equal(t, decision.VerdictBlocked, d.Verdict)
	assert.Equal(t, decision.KindHardBlock, d.Kind)
	assert.Empty(t, d.RuleRef)
}

func TestBlockListWinsOverAllowList(t *testing.T) {
	// contact_witness appears on both lists; the block must win.
	e := newEvaluator(t, nil)
	it := intent.New("contact_witness", "lead_lawyer", "witness", "", "case-7")

	d := e.Evaluate(context.Background(), it, "")
	assert.Equal(t, decision.VerdictBlocked, d.Verdict)
	assert.Equal(t, decision.KindHardBlock, d.Kind)
	assert.Contains(t, d.RuleRef, "Rule 4.2")
}

func TestBlockedActionCarriesCitation(t *testing.T) {
	e := newEvaluator(t, nil)
	it := intent.New("fabricate_evidence", "lead_lawyer", "evidence", "", "case-7")

	d := e.Evaluate(context.Background(), it, "")
	assert.Equal(t, decision.KindHardBlock, d.Kind)
	assert.Contains(t, d.RuleRef, "IPC Section 192")
	assert.Contains(t, d.Reasoning, "IPC Section 192")
}

func TestDelegationScopeIsEntireSurface(t *testing.T) {
	e := newEvaluator(t, nil)

	t.Run("within scope and globally allowed", func(t *testing.T) {
		it := intent.NewDelegated("search_case_law", "research_agent", "lead_lawyer", "case-db", "", "case-7")
		d := e.Evaluate(context.Background(), it, "")
		assert.Equal(t, decision.VerdictAllowed, d.Verdict)
		assert.Equal(t, decision.KindAllowedDefault, d.Kind)
	})

	t.Run("outside scope", func(t *testing.T) {
		it := intent.NewDelegated("file_motion", "research_agent", "lead_lawyer", "court", "", "case-7")
		d := e.Evaluate(context.Background(), it, "")
		assert.Equal(t, decision.VerdictBlocked, d.Verdict)
		assert.Equal(t, decision.KindDelegationExceeded, d.Kind)
	})

	t.Run("scope does not bypass the allow list", func(t *testing.T) {
		// summarize_precedents is in scope but absent from allowed_actions.
		it := intent.NewDelegated("summarize_precedents", "research_agent", "lead_lawyer", "case-db", "", "case-7")
		d := e.Evaluate(context.Background(), it, "")
		assert.Equal(t, decision.VerdictBlocked, d.Verdict)
		assert.Equal(t, decision.KindHardBlock, d.Kind)
	})

	t.Run("unknown role has no scope", func(t *testing.T) {
		it := intent.NewDelegated("search_case_law", "intern_agent", "lead_lawyer", "case-db", "", "case-7")
		d := e.Evaluate(context.Background(), it, "")
		assert.Equal(t, decision.VerdictBlocked, d.Verdict)
		assert.Equal(t, decision.KindDelegationExceeded, d.Kind)
	})

	t.Run("scope check precedes the block list", func(t *testing.T) {
		it := intent.NewDelegated("fabricate_evidence", "research_agent", "lead_lawyer", "evidence", "", "case-7")
		d := e.Evaluate(context.Background(), it, "")
		assert.Equal(t, decision.KindDelegationExceeded, d.Kind)
	})
}

func TestTimeWindowHalfOpenBoundaries(t *testing.T) {
	e := newEvaluator(t, nil)
	it := intent.New("file_motion", "lead_lawyer", "court", "", "case-7")

	at := func(hour, minute int) func() time.Time {
		return func() time.Time {
			return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
		}
	}

	cases := []struct {
		name    string
		clock   func() time.Time
		allowed bool
	}{
		{"just before open", at(8, 59), false},
		{"exactly at open", at(9, 0), true},
		{"mid window", at(13, 30), true},
		{"last minute inside", at(16, 59), true},
		{"exactly at close", at(17, 0), false},
		{"late evening", at(22, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.WithClock(tc.clock).Evaluate(context.Background(), it, "")
			if tc.allowed {
				assert.Equal(t, decision.VerdictAllowed, d.Verdict)
			} else {
				assert.Equal(t, decision.VerdictBlocked, d.Verdict)
				assert.Equal(t, decision.KindTimeConstraint, d.Kind)
			}
		})
	}
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	w := TimeWindow{StartHour: 22, EndHour: 6, Timezone: "UTC"}
	assert.True(t, w.Contains(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)))
	assert.True(t, w.Contains(time.Date(2026, 3, 10, 5, 59, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))
}

func TestTokenStage(t *testing.T) {
	auth := &fakeAuthority{verdicts: map[string]bool{"good-token": true, "bad-token": false}}

	t.Run("valid token records digest", func(t *testing.T) {
		e := newEvaluator(t, auth)
		it := intent.New("draft_document", "lead_lawyer", "docs", "", "case-7")
		d := e.Evaluate(context.Background(), it, "good-token")
		assert.Equal(t, decision.VerdictAllowed, d.Verdict)
		assert.Equal(t, plan.TokenDigest("good-token"), d.TokenDigest)
	})

	t.Run("rejected token blocks", func(t *testing.T) {
		e := newEvaluator(t, auth)
		it := intent.New("draft_document", "lead_lawyer", "docs", "", "case-7")
		d := e.Evaluate(context.Background(), it, "bad-token")
		assert.Equal(t, decision.VerdictBlocked, d.Verdict)
		assert.Equal(t, decision.KindTokenInvalid, d.Kind)
	})

	t.Run("authority error fails closed", func(t *testing.T) {
		e := newEvaluator(t, &fakeAuthority{err: errors.New("authority unreachable")})
		it := intent.New("draft_document", "lead_lawyer", "docs", "", "case-7")
		d := e.Evaluate(context.Background(), it, "good-token")
		assert.Equal(t, decision.KindTokenInvalid, d.Kind)
	})

	t.Run("unattested blocks attestation-required actions", func(t *testing.T) {
		e := newEvaluator(t, auth)
		it := intent.New("send_legal_notice", "lead_lawyer", "opposing-counsel", "", "case-7")
		d := e.Evaluate(context.Background(), it, "")
		assert.Equal(t, decision.VerdictBlocked, d.Verdict)
		assert.Equal(t, decision.KindTokenInvalid, d.Kind)
	})

	t.Run("unattested passes ordinary actions", func(t *testing.T) {
		e := newEvaluator(t, auth)
		it := intent.New("draft_document", "lead_lawyer", "docs", "", "case-7")
		d := e.Evaluate(context.Background(), it, "")
		assert.Equal(t, decision.VerdictAllowed, d.Verdict)
		assert.Empty(t, d.TokenDigest)
	})

	t.Run("strict attestation blocks ordinary actions without a token", func(t *testing.T) {
		e := newEvaluator(t, auth).WithStrictAttestation(true)
		it := intent.New("draft_document", "lead_lawyer", "docs", "", "case-7")
		d := e.Evaluate(context.Background(), it, "")
		assert.Equal(t, decision.VerdictBlocked, d.Verdict)
		assert.Equal(t, decision.KindTokenInvalid, d.Kind)
	})

	t.Run("strict attestation still admits a valid token", func(t *testing.T) {
		e := newEvaluator(t, auth).WithStrictAttestation(true)
		it := intent.New("draft_document", "lead_lawyer", "docs", "", "case-7")
		d := e.Evaluate(context.Background(), it, "good-token")
		assert.Equal(t, decision.VerdictAllowed, d.Verdict)
		assert.Equal(t, plan.TokenDigest("good-token"), d.TokenDigest)
	})
}

func TestStoreHotReload(t *testing.T) {
	rs, err := Parse([]byte(sampleRuleset))
	require.NoError(t, err)
	store := NewStore(rs)
	e := NewEvaluator(store, nil, nil)

	it := intent.New("draft_document", "lead_lawyer", "docs", "", "case-7")
	d := e.Evaluate(context.Background(), it, "")
	require.Equal(t, decision.VerdictAllowed, d.Verdict)

	revoked, err := Parse([]byte(`{
	  "version": "1.3.0",
	  "allowed_actions": ["search_case_law"],
	  "blocked_actions": {},
	  "delegation_scopes": {}
	}`))
	require.NoError(t, err)
	store.Replace(revoked)

	d = e.Evaluate(context.Background(), it, "")
	assert.Equal(t, decision.VerdictBlocked, d.Verdict)
	assert.Equal(t, "1.3.0", e.Snapshot().Version)
}

func TestDecisionCarriesIntentIdentity(t *testing.T) {
	e := newEvaluator(t, nil)
	it := intent.NewDelegated("search_case_law", "research_agent", "lead_lawyer", "case-db", "", "case-42")

	d := e.Evaluate(context.Background(), it, "")
	assert.Equal(t, it.ID, d.IntentID)
	assert.Equal(t, "case-42", d.CaseID)
	assert.Equal(t, "research_agent", d.Initiator)
	assert.Equal(t, "lead_lawyer", d.DelegatedBy)
	assert.False(t, d.Timestamp.IsZero())
}
