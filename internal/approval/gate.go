package approval

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

// defaultPollInterval is used when the configuration does not set one.
const defaultPollInterval = 5 * time.Second

// Notifier announces a new approval request to an external channel.
type Notifier interface {
	ApprovalRequested(ctx context.Context, req *Request) error
}

// Gate raises approval requests for gated units and suspends until a
// decision arrives. Decisions may come from this process (Decide) or from
// another one writing to the shared store; the gate watches the store
// directory and polls as a fallback.
type Gate struct {
	cfg      config.ApprovalConfig
	store    *FileStore
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewGate creates an approval gate. notifier may be nil when no external
// channel is configured.
func NewGate(cfg config.ApprovalConfig, store *FileStore, notifier Notifier, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "approval"),
		now:      time.Now,
	}
}

// Request raises an approval request for a gated unit. Exactly one pending
// request may exist per unit; duplicates are rejected.
func (g *Gate) Request(ctx context.Context, planID transform.PlanID, unitID string, risk transform.RiskScore, description string) (*Request, error) {
	existing, err := g.store.FindActiveByUnit(ctx, unitID)
	if err == nil {
		return nil, rferrors.Wrap(ErrDuplicateRequest, rferrors.KindApproval, "approval.Request", "unit "+unitID).
			WithDetail("existing_request_id", existing.ID())
	}
	if !errors.Is(err, ErrRequestNotFound) {
		return nil, err
	}

	req := NewRequest(planID, unitID, risk, description, g.now().Add(g.cfg.Deadline))
	if err := g.store.Save(ctx, req); err != nil {
		return nil, err
	}

	if g.notifier != nil {
		if err := g.notifier.ApprovalRequested(ctx, req); err != nil {
			// Notification failure must not lose the request; operators can
			// still discover it through the status command.
			g.logger.Warn("approval notification failed",
				"request_id", req.ID(), "unit_id", unitID, "error", err)
		}
	}

	g.logger.Info("approval requested",
		"request_id", req.ID(),
		"unit_id", unitID,
		"risk_level", risk.Level,
		"deadline", req.Deadline())
	return req, nil
}

// Find returns a request by ID.
func (g *Gate) Find(ctx context.Context, requestID string) (*Request, error) {
	return g.store.FindByID(ctx, requestID)
}

// Pending returns all requests still awaiting a decision.
func (g *Gate) Pending(ctx context.Context) ([]*Request, error) {
	reqs, err := g.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := reqs[:0]
	for _, req := range reqs {
		if req.Status() == StatusPending {
			out = append(out, req)
		}
	}
	return out, nil
}

// Decide records an operator decision on a pending request. Decisions that
// arrive after the deadline expire the request instead.
func (g *Gate) Decide(ctx context.Context, requestID, actor string, approved bool, reason string) (*Request, error) {
	req, err := g.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	if req.Expired(now) {
		if err := req.Expire(now); err != nil {
			return nil, err
		}
		if err := g.store.Save(ctx, req); err != nil {
			return nil, err
		}
		return nil, rferrors.Wrap(ErrAlreadyDecided, rferrors.KindApproval, "approval.Decide",
			"request expired before the decision arrived")
	}

	if approved {
		err = req.Approve(actor, reason)
	} else {
		err = req.Reject(actor, reason)
	}
	if err != nil {
		return nil, err
	}
	if err := g.store.Save(ctx, req); err != nil {
		return nil, err
	}

	g.logger.Info("approval decided",
		"request_id", req.ID(),
		"unit_id", req.UnitID(),
		"status", req.Status(),
		"actor", actor)
	return req, nil
}

// Await suspends until the request reaches a terminal status or its deadline
// passes, and returns that status. Deadline expiry yields StatusExpired; use
// Accepts to map it to an outcome.
func (g *Gate) Await(ctx context.Context, requestID string) (Status, error) {
	req, err := g.store.FindByID(ctx, requestID)
	if err != nil {
		return "", err
	}
	if req.Status().Terminal() {
		return req.Status(), nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if werr := watcher.Add(g.store.Dir()); werr != nil {
			g.logger.Warn("cannot watch approval store, polling only", "error", werr)
			watcher.Close()
			watcher = nil
		}
	} else {
		g.logger.Warn("fsnotify unavailable, polling only", "error", err)
		watcher = nil
	}

	poll := g.cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	deadline := time.NewTimer(time.Until(req.Deadline()))
	defer deadline.Stop()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case ev := <-events:
			if !strings.HasPrefix(filepath.Base(ev.Name), requestID) {
				continue
			}
			if status, done, err := g.check(ctx, requestID); done {
				return status, err
			}

		case werr := <-watchErrs:
			g.logger.Warn("approval store watch error", "error", werr)

		case <-ticker.C:
			if status, done, err := g.check(ctx, requestID); done {
				return status, err
			}

		case <-deadline.C:
			return g.expire(ctx, requestID)
		}
	}
}

// Accepts maps a terminal status to an accept/deny outcome. Expiry counts as
// acceptance only under the explicit ExpiryApproves option.
func (g *Gate) Accepts(status Status) bool {
	switch status {
	case StatusApproved:
		return true
	case StatusExpired:
		return g.cfg.ExpiryApproves
	default:
		return false
	}
}

func (g *Gate) check(ctx context.Context, requestID string) (Status, bool, error) {
	req, err := g.store.FindByID(ctx, requestID)
	if err != nil {
		return "", true, err
	}
	if req.Status().Terminal() {
		return req.Status(), true, nil
	}
	if req.Expired(g.now()) {
		status, err := g.expire(ctx, requestID)
		return status, true, err
	}
	return "", false, nil
}

func (g *Gate) expire(ctx context.Context, requestID string) (Status, error) {
	req, err := g.store.FindByID(ctx, requestID)
	if err != nil {
		return "", err
	}
	// A decision may have landed between the timer firing and this reload.
	if req.Status().Terminal() {
		return req.Status(), nil
	}

	if err := req.Expire(g.now()); err != nil {
		return "", err
	}
	if err := g.store.Save(ctx, req); err != nil {
		return "", err
	}

	g.logger.Warn("approval request expired",
		"request_id", req.ID(),
		"unit_id", req.UnitID(),
		"expiry_approves", g.cfg.ExpiryApproves)
	return StatusExpired, nil
}
