package authority

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalmesh/warden/pkg/merkle"
	"github.com/legalmesh/warden/pkg/plan"
)

func TestLocalCommitAndVerify(t *testing.T) {
	auth, err := NewLocalAuthority()
	require.NoError(t, err)

	steps := []string{"search_case_law", "draft_document", "advise_client"}
	c, err := auth.Commit(context.Background(), steps, 5*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Token)
	assert.Equal(t, plan.HashSteps(steps), c.PlanHash)
	assert.Equal(t, steps, c.Steps)

	ok, err := auth.Verify(context.Background(), c.Token)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalVerifyRejectsTamperedToken(t *testing.T) {
	auth, err := NewLocalAuthority()
	require.NoError(t, err)

	c, err := auth.Commit(context.Background(), []string{"a", "b"}, time.Minute)
	require.NoError(t, err)

	tampered := c.Token[:len(c.Token)-4] + "AAAA"
	ok, err := auth.Verify(context.Background(), tampered)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalVerifyRejectsForeignKey(t *testing.T) {
	issuer, err := NewLocalAuthority()
	require.NoError(t, err)
	verifier, err := NewLocalAuthority()
	require.NoError(t, err)

	c, err := issuer.Commit(context.Background(), []string{"a"}, time.Minute)
	require.NoError(t, err)

	ok, err := verifier.Verify(context.Background(), c.Token)
	require.NoError(t, err)
	assert.False(t, ok, "token signed by a different key must not verify")
}

func TestLocalVerifyExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	auth, err := NewLocalAuthority()
	require.NoError(t, err)
	auth.WithClock(func() time.Time { return now })

	c, err := auth.Commit(context.Background(), []string{"a"}, time.Minute)
	require.NoError(t, err)

	ok, _ := auth.Verify(context.Background(), c.Token)
	assert.True(t, ok, "fresh token must verify")

	// Exactly at expiry the token is no longer usable.
	auth.WithClock(func() time.Time { return now.Add(time.Minute) })
	ok, _ = auth.Verify(context.Background(), c.Token)
	assert.False(t, ok, "token at expires_at must not verify")
}

func TestLocalCommitEmptyPlan(t *testing.T) {
	auth, err := NewLocalAuthority()
	require.NoError(t, err)
	_, err = auth.Commit(context.Background(), nil, time.Minute)
	assert.Error(t, err)
}

func TestLocalCommitmentProofsVerify(t *testing.T) {
	auth, err := NewLocalAuthority()
	require.NoError(t, err)

	steps := []string{"search_case_law", "draft_document", "search_case_law"}
	c, err := auth.Commit(context.Background(), steps, time.Minute)
	require.NoError(t, err)
	require.Len(t, c.Proofs, len(steps))
	for i, p := range c.Proofs {
		require.NotNil(t, p, "proof %d", i)
		assert.True(t, merkle.VerifyProof(p, c.MerkleRoot), "proof %d", i)
	}
}

func TestHTTPAuthorityCommitVerify(t *testing.T) {
	local, err := NewLocalAuthority()
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/commit", func(w http.ResponseWriter, r *http.Request) {
		var req commitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		c, cerr := local.Commit(r.Context(), req.Steps, time.Duration(req.ValiditySeconds)*time.Second)
		require.NoError(t, cerr)
		json.NewEncoder(w).Encode(commitResponse{
			Token:      c.Token,
			PlanHash:   c.PlanHash,
			MerkleRoot: c.MerkleRoot,
			Proofs:     c.Proofs,
		})
	})
	mux.HandleFunc("/v1/verify", func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ok, _ := local.Verify(r.Context(), req.Token)
		json.NewEncoder(w).Encode(verifyResponse{Verified: ok})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	remote := NewHTTPAuthority(HTTPConfig{URL: srv.URL, RequestsPerSecond: 100})
	c, err := remote.Commit(context.Background(), []string{"a", "b"}, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Token)

	ok, err := remote.Verify(context.Background(), c.Token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = remote.Verify(context.Background(), "garbage")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPAuthorityFailClosedOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	remote := NewHTTPAuthority(HTTPConfig{URL: srv.URL})
	_, err := remote.Verify(context.Background(), "tok")
	assert.Error(t, err, "5xx must surface as an error, never as verified")
}

func TestHTTPAuthorityTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	remote := NewHTTPAuthority(HTTPConfig{URL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := remote.Verify(context.Background(), "tok")
	assert.Error(t, err, "timeout must fail closed")
}
