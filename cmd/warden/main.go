// Command warden runs the agent authorization service: an HTTP surface
// for plan commitments and intent submission, backed by the screening,
// policy, gate, and audit-ledger stages.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/legalmesh/warden/pkg/authority"
	"github.com/legalmesh/warden/pkg/config"
	"github.com/legalmesh/warden/pkg/gate"
	"github.com/legalmesh/warden/pkg/ledger"
	"github.com/legalmesh/warden/pkg/observability"
	"github.com/legalmesh/warden/pkg/pipeline"
	"github.com/legalmesh/warden/pkg/plan"
	"github.com/legalmesh/warden/pkg/policy"
	"github.com/legalmesh/warden/pkg/tools"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. Exposed for tests.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(args[1:], stderr)
	}
	switch args[1] {
	case "serve", "server":
		return runServe(args[2:], stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "demo":
		return runDemo(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: warden <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve    start the authorization service (default)")
	fmt.Fprintln(w, "  verify   verify the integrity of an audit ledger file")
	fmt.Fprintln(w, "  demo     run scripted scenarios against an in-memory pipeline")
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	rulesetPath := fs.String("ruleset", "", "path to the ruleset document (overrides WARDEN_RULESET_PATH)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if *rulesetPath != "" {
		cfg.RulesetPath = *rulesetPath
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := observability.New(ctx, &observability.Config{
		ServiceName:    "warden",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       true,
	})
	if err != nil {
		logger.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	app, err := assemble(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		return 1
	}
	defer app.close()

	srv := newServer(app, logger)
	if err := srv.listen(ctx, ":"+cfg.Port); err != nil {
		logger.Error("server stopped", "err", err)
		return 1
	}
	return 0
}

// application bundles the assembled pipeline and its supporting pieces.
type application struct {
	pipeline  *pipeline.Pipeline
	ledger    *ledger.Ledger
	store     *policy.Store
	authority plan.Authority
	ruleset   string
	db        *sql.DB

	// planValidity is the commitment lifetime used when a plan request
	// does not name one. Practice profiles override the default.
	planValidity time.Duration
}

func (a *application) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// assemble builds the full pipeline from configuration: ruleset, plan
// authority, verifier, tool registry, gate, and a durable ledger.
func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	rs, err := policy.LoadFile(cfg.RulesetPath)
	if err != nil {
		return nil, err
	}
	store := policy.NewStore(rs)
	logger.Info("ruleset loaded", "path", cfg.RulesetPath, "version", rs.Version, "hash", rs.Hash())

	var auth plan.Authority
	if cfg.AuthorityURL != "" {
		auth = authority.NewHTTPAuthority(authority.HTTPConfig{
			URL:     cfg.AuthorityURL,
			APIKey:  cfg.AuthorityAPIKey,
			Timeout: cfg.AuthorityTimeout,
		})
		logger.Info("using remote plan authority", "url", cfg.AuthorityURL)
	} else {
		local, err := authority.NewLocalAuthority()
		if err != nil {
			return nil, err
		}
		auth = local
		logger.Info("using in-process plan authority")
	}
	verifier := plan.NewVerifier(auth, cfg.AuthorityTimeout, logger)

	evaluator := policy.NewEvaluator(store, verifier, logger)
	planValidity := 5 * time.Minute
	if cfg.Jurisdiction != "" {
		profile, err := config.LoadProfile(cfg.ProfileDir, cfg.Jurisdiction)
		if err != nil {
			return nil, err
		}
		if profile.PlanValidity > 0 {
			planValidity = profile.PlanValidity.Std()
		}
		evaluator.WithStrictAttestation(profile.StrictAttestation)
		logger.Info("practice profile loaded",
			"jurisdiction", profile.Code,
			"timezone", profile.Timezone,
			"plan_validity", planValidity,
			"strict_attestation", profile.StrictAttestation)
	}

	app := &application{store: store, authority: auth, ruleset: cfg.RulesetPath, planValidity: planValidity}

	var ledgerStore ledger.Store
	switch {
	case cfg.DatabaseURL == "":
		ledgerStore = ledger.NewFileStore(cfg.LedgerPath)
		logger.Info("audit ledger on file store", "path", cfg.LedgerPath)
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"), strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.db = db
		sqlStore := ledger.NewSQLStore(db, "postgres")
		if err := sqlStore.Init(ctx); err != nil {
			app.close()
			return nil, fmt.Errorf("init audit table: %w", err)
		}
		ledgerStore = sqlStore
		logger.Info("audit ledger on postgres")
	default:
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		app.db = db
		sqlStore := ledger.NewSQLStore(db, "sqlite")
		if err := sqlStore.Init(ctx); err != nil {
			app.close()
			return nil, fmt.Errorf("init audit table: %w", err)
		}
		ledgerStore = sqlStore
		logger.Info("audit ledger on sqlite", "path", cfg.DatabaseURL)
	}

	l := ledger.New(ledgerStore, logger)
	if err := l.Load(ctx); err != nil {
		app.close()
		return nil, err
	}
	app.ledger = l

	p, err := pipeline.New(
		evaluator,
		gate.New(verifier, tools.DefaultRegistry(logger), logger),
		l, logger)
	if err != nil {
		app.close()
		return nil, err
	}
	app.pipeline = p
	return app, nil
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("ledger", "warden_audit.jsonl", "audit ledger file to verify")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	l := ledger.New(ledger.NewFileStore(*path), nil)
	if err := l.Load(context.Background()); err != nil {
		fmt.Fprintf(stderr, "FAIL: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "OK: %d nodes, chain head %s\n", l.Len(), l.Root())
	return 0
}
