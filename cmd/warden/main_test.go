package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalmesh/warden/pkg/config"
	"github.com/legalmesh/warden/pkg/decision"
	"github.com/legalmesh/warden/pkg/intent"
	"github.com/legalmesh/warden/pkg/ledger"
)

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"warden", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Usage: warden")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"warden", "frobnicate"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "unknown command")
}

func TestRunVerifyIntactLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l := ledger.New(ledger.NewFileStore(path), nil)
	for i := 0; i < 3; i++ {
		_, err := l.Append(context.Background(), decision.Decision{
			IntentID:  "intent-1",
			Action:    "search_case_law",
			Initiator: "lead_lawyer",
			Verdict:   decision.VerdictAllowed,
			Kind:      decision.KindAllowedDefault,
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	var out, errOut bytes.Buffer
	code := Run([]string{"warden", "verify", "-ledger", path}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "OK: 3 nodes")
}

func TestRunVerifyEmptyLedger(t *testing.T) {
	var out, errOut bytes.Buffer
	path := filepath.Join(t.TempDir(), "missing.jsonl")
	code := Run([]string{"warden", "verify", "-ledger", path}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "OK: 0 nodes")
}

func TestAssembleAppliesPracticeProfile(t *testing.T) {
	dir := t.TempDir()
	rulesetPath := filepath.Join(dir, "ruleset.json")
	require.NoError(t, os.WriteFile(rulesetPath, []byte(`{
	  "version": "1.0.0",
	  "allowed_actions": ["search_case_law"],
	  "blocked_actions": {},
	  "delegation_scopes": {}
	}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_in_dl.yaml"), []byte(
		"name: x\ncode: in_dl\ntimezone: Asia/Kolkata\nplan_validity: 10m\nstrict_attestation: true\n"), 0o600))

	cfg := &config.Config{
		RulesetPath:      rulesetPath,
		LedgerPath:       filepath.Join(dir, "audit.jsonl"),
		ProfileDir:       dir,
		Jurisdiction:     "in_dl",
		AuthorityTimeout: time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := assemble(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer app.close()

	assert.Equal(t, 10*time.Minute, app.planValidity)

	// Strict attestation from the profile must block even allow-listed
	// actions when no plan token is presented.
	it := intent.New("search_case_law", "lead_lawyer", "case-db", "precedents on bail", "case-7")
	res, err := app.pipeline.Submit(context.Background(), it, "", nil)
	require.NoError(t, err)
	assert.Equal(t, decision.VerdictBlocked, res.Decision.Verdict)
	assert.Equal(t, decision.KindTokenInvalid, res.Decision.Kind)
}

func TestRunDemo(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"warden", "demo"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	assert.Contains(t, out.String(), "plan committed")
	assert.Contains(t, out.String(), "BLOCKED HARD_BLOCK [IPC Section 192")
	assert.Contains(t, out.String(), "BLOCKED INJECTION")
	assert.Contains(t, out.String(), "BLOCKED INTENT_DRIFT")
	assert.Contains(t, out.String(), "BLOCKED DELEGATION_EXCEEDED")
	assert.Contains(t, out.String(), "BLOCKED TOKEN_INVALID")
	assert.Contains(t, out.String(), "chain verification OK")
}
