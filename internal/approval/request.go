// Package approval implements the human approval gate for high-risk
// transformation units. A request is created lazily when a unit's risk level
// requires sign-off, notified to an external channel, and resolved by an
// operator decision or by deadline expiry. Waiting is suspension, not a
// blocked thread: the gate watches its store for decisions and polls as a
// fallback.
package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/refactory-tech/refactory/internal/domain/transform"
)

// Sentinel errors for the approval gate.
var (
	// ErrDuplicateRequest indicates an active request already exists for the
	// unit. Exactly one outstanding request per gated unit is allowed.
	ErrDuplicateRequest = errors.New("active approval request already exists for unit")

	// ErrRequestNotFound indicates the request does not exist.
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrAlreadyDecided indicates a decision was attempted on a request that
	// is no longer pending.
	ErrAlreadyDecided = errors.New("approval request already decided")
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// Terminal reports whether the status admits no further decisions.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Request is an approval request for one gated unit (batch or wave).
type Request struct {
	id          string
	unitID      string
	planID      transform.PlanID
	risk        transform.RiskScore
	description string
	status      Status
	requestedAt time.Time
	deadline    time.Time
	decidedAt   *time.Time
	decidedBy   string
	reason      string
}

// NewRequest creates a pending approval request for a gated unit.
func NewRequest(planID transform.PlanID, unitID string, risk transform.RiskScore, description string, deadline time.Time) *Request {
	return &Request{
		id:          uuid.New().String(),
		unitID:      unitID,
		planID:      planID,
		risk:        risk,
		description: description,
		status:      StatusPending,
		requestedAt: time.Now(),
		deadline:    deadline,
	}
}

// ID returns the request identifier.
func (r *Request) ID() string { return r.id }

// UnitID returns the gated batch or wave identifier.
func (r *Request) UnitID() string { return r.unitID }

// PlanID returns the owning plan.
func (r *Request) PlanID() transform.PlanID { return r.planID }

// Risk returns the score that triggered gating.
func (r *Request) Risk() transform.RiskScore { return r.risk }

// Description returns the human-readable summary of the pending unit.
func (r *Request) Description() string { return r.description }

// Status returns the current lifecycle state.
func (r *Request) Status() Status { return r.status }

// RequestedAt returns when the request was raised.
func (r *Request) RequestedAt() time.Time { return r.requestedAt }

// Deadline returns when the request expires.
func (r *Request) Deadline() time.Time { return r.deadline }

// DecidedAt returns when the request was decided, nil while pending.
func (r *Request) DecidedAt() *time.Time { return r.decidedAt }

// DecidedBy returns the deciding actor, empty while pending.
func (r *Request) DecidedBy() string { return r.decidedBy }

// Reason returns the free-form decision rationale.
func (r *Request) Reason() string { return r.reason }

// Expired reports whether the deadline has passed at the given instant.
func (r *Request) Expired(now time.Time) bool {
	return r.status == StatusPending && now.After(r.deadline)
}

// Approve records an approval decision.
func (r *Request) Approve(actor, reason string) error {
	return r.decide(StatusApproved, actor, reason)
}

// Reject records a rejection decision.
func (r *Request) Reject(actor, reason string) error {
	return r.decide(StatusRejected, actor, reason)
}

// Expire marks a pending request expired after its deadline.
func (r *Request) Expire(now time.Time) error {
	if r.status.Terminal() {
		return fmt.Errorf("expire request %s: %w", r.id, ErrAlreadyDecided)
	}
	r.status = StatusExpired
	r.decidedAt = &now
	return nil
}

func (r *Request) decide(status Status, actor, reason string) error {
	if r.status.Terminal() {
		return fmt.Errorf("decide request %s: %w", r.id, ErrAlreadyDecided)
	}
	now := time.Now()
	r.status = status
	r.decidedAt = &now
	r.decidedBy = actor
	r.reason = reason
	return nil
}
