package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

type recordingNotifier struct {
	requests []*Request
}

func (n *recordingNotifier) ApprovalRequested(_ context.Context, req *Request) error {
	n.requests = append(n.requests, req)
	return nil
}

func newTestGate(t *testing.T, cfg config.ApprovalConfig) (*Gate, *recordingNotifier) {
	t.Helper()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	return NewGate(cfg, store, notifier, nil), notifier
}

func highRisk() transform.RiskScore {
	return transform.RiskScore{
		Value:                  70,
		Level:                  transform.RiskHigh,
		RequiresManualApproval: true,
	}
}

func TestGateRequestNotifiesAndPersists(t *testing.T) {
	gate, notifier := newTestGate(t, config.ApprovalConfig{Deadline: time.Hour})
	ctx := context.Background()

	req, err := gate.Request(ctx, transform.PlanID("plan-1"), "batch-1", highRisk(), "migrate auth handlers")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, req.Status())
	assert.Len(t, notifier.requests, 1)

	found, err := gate.store.FindByID(ctx, req.ID())
	require.NoError(t, err)
	assert.Equal(t, "batch-1", found.UnitID())
	assert.Equal(t, transform.RiskHigh, found.Risk().Level)
}

func TestGateRejectsDuplicateRequest(t *testing.T) {
	gate, _ := newTestGate(t, config.ApprovalConfig{Deadline: time.Hour})
	ctx := context.Background()

	_, err := gate.Request(ctx, transform.PlanID("plan-1"), "batch-1", highRisk(), "first")
	require.NoError(t, err)

	_, err = gate.Request(ctx, transform.PlanID("plan-1"), "batch-1", highRisk(), "second")
	require.ErrorIs(t, err, ErrDuplicateRequest)
	assert.True(t, rferrors.IsKind(err, rferrors.KindApproval))
}

func TestGateAllowsNewRequestAfterDecision(t *testing.T) {
	gate, _ := newTestGate(t, config.ApprovalConfig{Deadline: time.Hour})
	ctx := context.Background()

	first, err := gate.Request(ctx, transform.PlanID("plan-1"), "batch-1", highRisk(), "first")
	require.NoError(t, err)

	_, err = gate.Decide(ctx, first.ID(), "alex", false, "too risky")
	require.NoError(t, err)

	_, err = gate.Request(ctx, transform.PlanID("plan-1"), "batch-1", highRisk(), "retry")
	require.NoError(t, err)
}

func TestGateDecideIsFinal(t *testing.T) {
	gate, _ := newTestGate(t, config.ApprovalConfig{Deadline: time.Hour})
	ctx := context.Background()

	req, err := gate.Request(ctx, transform.PlanID("plan-1"), "batch-1", highRisk(), "migrate")
	require.NoError(t, err)

	decided, err := gate.Decide(ctx, req.ID(), "alex", true, "reviewed the diff")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status())
	assert.Equal(t, "alex", decided.DecidedBy())
	require.NotNil(t, decided.DecidedAt())

	_, err = gate.Decide(ctx, req.ID(), "sam", false, "changed my mind")
	require.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestGateDecideAfterDeadlineExpires(t *testing.T) {
	gate, _ := newTestGate(t, config.ApprovalConfig{Deadline: -time.Second})
	ctx := context.Background()

	req, err := gate.Request(ctx, transform.PlanID("plan-1"), "batch-1", highRisk(), "migrate")
	require.NoError(t, err)

	_, err = gate.Decide(ctx, req.ID(), "alex", true, "late")
	require.ErrorIs(t, err, ErrAlreadyDecided)

	found, err := gate.store.FindByID(ctx, req.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, found.Status())
}

func TestAwaitReturnsDecision(t *testing.T) {
	gate, _ := newTestGate(t, config.ApprovalConfig{
		Deadline:     time.Hour,
		PollInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	req, err := gate.Request(ctx, transform.PlanID("plan-1"), "batch-1", highRisk(), "migrate")
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = gate.Decide(context.Background(), req.ID(), "alex", true, "ship it")
	}()

	status, err := gate.Await(ctx, req.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, status)
	assert.True(t, gate.Accepts(status))
}

func TestAwaitDeadlineExpiry(t *testing.T) {
	gate, _ := newTestGate(t, config.ApprovalConfig{
		Deadline:     50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	req, err := gate.Request(ctx, transform.PlanID("plan-1"), "batch-1", highRisk(), "migrate")
	require.NoError(t, err)

	status, err := gate.Await(ctx, req.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, status)

	// Expiry is rejection unless explicitly configured otherwise.
	assert.False(t, gate.Accepts(status))
	gate.cfg.ExpiryApproves = true
	assert.True(t, gate.Accepts(status))
}

func TestAwaitCancellation(t *testing.T) {
	gate, _ := newTestGate(t, config.ApprovalConfig{
		Deadline:     time.Hour,
		PollInterval: 10 * time.Millisecond,
	})

	req, err := gate.Request(context.Background(), transform.PlanID("plan-1"), "batch-1", highRisk(), "migrate")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = gate.Await(ctx, req.ID())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	req := NewRequest(transform.PlanID("plan-1"), "wave-3", transform.RiskScore{
		Value: 82,
		Level: transform.RiskCritical,
		Factors: []transform.RiskFactor{
			{Name: "transformation_kind", Contribution: 40, Description: "api_migration"},
		},
		RequiresManualApproval:  true,
		RequiresExtendedTesting: true,
	}, "wave-level migration", time.Now().Add(time.Hour))
	require.NoError(t, req.Approve("alex", "looks safe"))
	require.NoError(t, store.Save(ctx, req))

	found, err := store.FindByID(ctx, req.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, found.Status())
	assert.Equal(t, "alex", found.DecidedBy())
	assert.Equal(t, "looks safe", found.Reason())
	assert.Len(t, found.Risk().Factors, 1)
	assert.True(t, found.Risk().RequiresExtendedTesting)
}
