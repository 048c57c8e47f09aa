package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/legalmesh/warden/pkg/gate"
	"github.com/legalmesh/warden/pkg/intent"
	"github.com/legalmesh/warden/pkg/tools"
)

// server exposes the pipeline over a small JSON API.
type server struct {
	app    *application
	logger *slog.Logger
}

func newServer(app *application, logger *slog.Logger) *server {
	return &server{app: app, logger: logger}
}

func (s *server) listen(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/plans", s.handleCommitPlan)
	mux.HandleFunc("POST /v1/intents", s.handleSubmitIntent)
	mux.HandleFunc("GET /v1/ledger", s.handleLedger)
	mux.HandleFunc("GET /v1/ledger/verify", s.handleVerifyLedger)
	mux.HandleFunc("POST /v1/ruleset/reload", s.handleReloadRuleset)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type commitPlanRequest struct {
	Steps           []string `json:"steps"`
	ValiditySeconds int      `json:"validity_seconds"`
}

func (s *server) handleCommitPlan(w http.ResponseWriter, r *http.Request) {
	var req commitPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	validity := time.Duration(req.ValiditySeconds) * time.Second
	if validity <= 0 {
		validity = s.app.planValidity
	}

	c, err := s.app.authority.Commit(r.Context(), req.Steps, validity)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type submitIntentRequest struct {
	Action      string `json:"action"`
	Initiator   string `json:"initiator"`
	DelegatedBy string `json:"delegated_by,omitempty"`
	Target      string `json:"target"`
	Content     string `json:"content"`
	CaseID      string `json:"case_id"`
	Token       string `json:"token,omitempty"`
}

type submitIntentResponse struct {
	IntentID string          `json:"intent_id"`
	Decision json.RawMessage `json:"decision"`
	Output   string          `json:"output,omitempty"`
}

func (s *server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	var req submitIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	it := intent.New(req.Action, req.Initiator, req.Target, req.Content, req.CaseID)
	if req.DelegatedBy != "" {
		it.DelegatedBy = req.DelegatedBy
	}

	res, err := s.app.pipeline.Submit(r.Context(), it, req.Token, nil)
	switch {
	case errors.Is(err, intent.ErrMalformedIntent):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, tools.ErrUnknownTool), errors.Is(err, gate.ErrNoDispatcher):
		writeError(w, http.StatusNotImplemented, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	payload, err := json.Marshal(res.Decision)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	status := http.StatusOK
	if !res.Decision.Allowed() {
		status = http.StatusForbidden
	}
	writeJSON(w, status, submitIntentResponse{
		IntentID: it.ID,
		Decision: payload,
		Output:   res.Output,
	})
}

func (s *server) handleLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"length": s.app.ledger.Len(),
		"root":   s.app.ledger.Root(),
		"nodes":  s.app.ledger.Nodes(),
	})
}

func (s *server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	if err := s.app.ledger.VerifyChain(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"length": s.app.ledger.Len(),
		"root":   s.app.ledger.Root(),
	})
}

func (s *server) handleReloadRuleset(w http.ResponseWriter, r *http.Request) {
	if err := s.app.store.ReloadFile(s.app.ruleset); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	rs := s.app.store.Snapshot()
	s.logger.Info("ruleset reloaded", "version", rs.Version, "hash", rs.Hash())
	writeJSON(w, http.StatusOK, map[string]any{
		"version": rs.Version,
		"hash":    rs.Hash(),
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprint(err)})
}
