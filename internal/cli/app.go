package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/refactory-tech/refactory/internal/approval"
	"github.com/refactory-tech/refactory/internal/checkpoint"
	"github.com/refactory-tech/refactory/internal/compat"
	"github.com/refactory-tech/refactory/internal/infrastructure/flags"
	"github.com/refactory-tech/refactory/internal/infrastructure/git"
	"github.com/refactory-tech/refactory/internal/infrastructure/parser"
	"github.com/refactory-tech/refactory/internal/infrastructure/persistence"
	"github.com/refactory-tech/refactory/internal/infrastructure/testrunner"
	"github.com/refactory-tech/refactory/internal/infrastructure/webhook"
	"github.com/refactory-tech/refactory/internal/orchestrator"
	"github.com/refactory-tech/refactory/internal/planner"
	"github.com/refactory-tech/refactory/internal/progress"
	"github.com/refactory-tech/refactory/internal/risk"
	"github.com/refactory-tech/refactory/internal/verify"
)

// app bundles the engine and the collaborators a command needs after wiring.
type app struct {
	engine  *orchestrator.Engine
	gate    *approval.Gate
	tracker *progress.Tracker
	repo    *persistence.FilePlanRepository
	root    string
}

// buildApp wires the engine for the configured codebase root. Optional
// collaborators (version control, webhooks, feature flags, shims) are wired
// only when usable so the engine sees a true nil, not a typed one.
func buildApp() (*app, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	storage := cfg.Storage.Dir
	if !filepath.IsAbs(storage) {
		storage = filepath.Join(root, storage)
	}

	slogger := slog.New(logger)

	checkpoints, err := checkpoint.NewManager(root, filepath.Join(storage, "checkpoints"), slogger)
	if err != nil {
		return nil, err
	}
	store, err := approval.NewFileStore(filepath.Join(storage, "approvals"))
	if err != nil {
		return nil, err
	}
	repo, err := persistence.NewFilePlanRepository(filepath.Join(storage, "plans"))
	if err != nil {
		return nil, err
	}

	var sender *webhook.Sender
	if len(cfg.Webhooks) > 0 {
		sender = webhook.NewSender(cfg.Webhooks, slogger)
	}
	var gateNotifier approval.Notifier
	if sender != nil {
		gateNotifier = sender
	}
	gate := approval.NewGate(cfg.Approval, store, gateNotifier, slogger)

	ts := parser.NewTreeSitter(slogger)

	opts := orchestrator.Options{
		Parser:     ts,
		Repository: repo,
		Logger:     slogger,
	}
	if vcs, err := git.Open(root); err == nil {
		opts.VersionControl = vcs
	} else {
		slogger.Warn("codebase is not a git repository, commits disabled", "error", err)
	}
	if sender != nil {
		opts.Notifier = sender
	}
	if fc := flags.NewClient(cfg.FeatureFlags, slogger); fc != nil {
		opts.FeatureFlags = fc
	}
	if gen := compat.NewGenerator(cfg.Compat, root, ts, slogger); gen != nil {
		opts.Shims = gen
	}

	assessor := risk.NewAssessor(cfg.Risk)
	engine := orchestrator.NewEngine(
		*cfg,
		root,
		assessor,
		planner.New(cfg.Planner, assessor),
		checkpoints,
		verify.NewVerifier(slogger),
		gate,
		testrunner.New(cfg.TestRunner, root, slogger),
		opts,
	)

	tracker := progress.NewTracker()
	engine.Subscribe(tracker.Handle)
	if sender != nil {
		engine.Subscribe(sender.Subscriber())
	}

	return &app{
		engine:  engine,
		gate:    gate,
		tracker: tracker,
		repo:    repo,
		root:    root,
	}, nil
}
