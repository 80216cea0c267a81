// Package webhook delivers engine events to HTTP endpoints as signed JSON
// payloads. It serves three consumers: the orchestrator's notifier port, the
// approval gate's notifier, and a domain-event subscriber for audit feeds.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/refactory-tech/refactory/internal/approval"
	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

func getTimeout(c *config.WebhookConfig) time.Duration {
	if c.Timeout == 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

func getRetryCount(c *config.WebhookConfig) int {
	if c.RetryCount == 0 {
		return 3
	}
	return c.RetryCount
}

func getRetryDelay(c *config.WebhookConfig) time.Duration {
	if c.RetryDelay == 0 {
		return 1 * time.Second
	}
	return c.RetryDelay
}

// Payload is the JSON body delivered to webhook endpoints.
type Payload struct {
	// Event is the event name (e.g. "batch.committed").
	Event string `json:"event"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// PlanID identifies the transformation plan the event belongs to.
	PlanID string `json:"plan_id"`
	// Data holds event-specific fields.
	Data map[string]any `json:"data"`
}

// Sender delivers payloads to the configured endpoints. Each endpoint has
// its own circuit breaker so one dead receiver does not burn retry budget
// for the rest.
type Sender struct {
	endpoints []config.WebhookConfig
	breakers  []circuitbreaker.CircuitBreaker[struct{}]
	client    *http.Client
	logger    *slog.Logger
}

// NewSender creates a webhook sender for the configured endpoints.
func NewSender(endpoints []config.WebhookConfig, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make([]circuitbreaker.CircuitBreaker[struct{}], len(endpoints))
	for i := range endpoints {
		breakers[i] = circuitbreaker.New[struct{}](circuitbreaker.Config{
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return &Sender{
		endpoints: endpoints,
		breakers:  breakers,
		client:    &http.Client{},
		logger:    logger.With("component", "webhook"),
	}
}

// Notify implements the orchestrator's notifier port. Delivery failures are
// reported but never block execution.
func (s *Sender) Notify(ctx context.Context, audience, message, link string) error {
	payload := &Payload{
		Event:     "engine.notification",
		Timestamp: time.Now(),
		Data: map[string]any{
			"audience": audience,
			"message":  message,
			"link":     link,
		},
	}
	return s.deliver(ctx, payload)
}

// ApprovalRequested implements the approval gate's notifier.
func (s *Sender) ApprovalRequested(ctx context.Context, req *approval.Request) error {
	payload := &Payload{
		Event:     "approval.requested",
		Timestamp: req.RequestedAt(),
		PlanID:    req.PlanID().String(),
		Data: map[string]any{
			"request_id":  req.ID(),
			"unit_id":     req.UnitID(),
			"description": req.Description(),
			"risk_value":  req.Risk().Value,
			"risk_level":  req.Risk().Level.String(),
			"deadline":    req.Deadline().Format(time.RFC3339),
		},
	}
	return s.deliver(ctx, payload)
}

// Subscriber returns a domain-event callback for the orchestrator's event
// bus. Delivery runs in the background; the bus dispatch is synchronous and
// must not wait on the network.
func (s *Sender) Subscriber() func(transform.DomainEvent) {
	return func(event transform.DomainEvent) {
		payload := buildPayload(event)
		if payload == nil {
			return
		}
		go func() {
			if err := s.deliver(context.Background(), payload); err != nil {
				s.logger.Warn("event delivery failed", "event", payload.Event, "error", err)
			}
		}()
	}
}

// buildPayload flattens a domain event into a wire payload.
func buildPayload(event transform.DomainEvent) *Payload {
	payload := &Payload{
		Event:     event.EventName(),
		Timestamp: event.OccurredAt(),
		PlanID:    event.AggregateID().String(),
		Data:      make(map[string]any),
	}

	switch e := event.(type) {
	case *transform.PlanCreatedEvent:
		payload.Data["codebase"] = e.Codebase
		payload.Data["waves"] = e.Waves
		payload.Data["batches"] = e.Batches
		payload.Data["files"] = e.Files

	case *transform.BatchTransitionedEvent:
		payload.Data["batch_id"] = e.BatchID.String()
		payload.Data["from"] = string(e.From)
		payload.Data["to"] = string(e.To)
		if e.Reason != "" {
			payload.Data["reason"] = e.Reason
		}

	case *transform.BatchCommittedEvent:
		payload.Data["batch_id"] = e.BatchID.String()
		payload.Data["files"] = e.Files
		payload.Data["risk"] = e.Risk.String()

	case *transform.ApprovalRequestedEvent:
		payload.Data["batch_id"] = e.BatchID.String()
		payload.Data["request_id"] = e.RequestID
		payload.Data["risk"] = e.Risk.String()
		payload.Data["deadline"] = e.Deadline.Format(time.RFC3339)

	case *transform.WaveCompletedEvent:
		payload.Data["wave_id"] = e.WaveID.String()
		payload.Data["status"] = string(e.Status)

	case *transform.PlanCompletedEvent:
		payload.Data["committed_waves"] = e.CommittedWaves
		payload.Data["blocked_waves"] = e.BlockedWaves
		payload.Data["rolled_back_waves"] = e.RolledBackWaves
		payload.Data["canceled"] = e.Canceled

	case *transform.RollbackEscalationEvent:
		payload.Data["batch_id"] = e.BatchID.String()
		payload.Data["detail"] = e.Detail

	default:
		return nil
	}

	return payload
}

// deliver sends the payload to every enabled endpoint whose event filter
// matches. The last error is returned so callers can log it.
func (s *Sender) deliver(ctx context.Context, payload *Payload) error {
	var lastErr error
	for i := range s.endpoints {
		ep := &s.endpoints[i]
		if !ep.IsWebhookEnabled() || !matchesFilter(ep.Events, payload.Event) {
			continue
		}
		if err := s.sendWithRetry(ctx, i, payload); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// matchesFilter checks the endpoint's event filter; empty means all events,
// and a trailing ".*" matches a prefix.
func matchesFilter(filter []string, eventName string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == eventName {
			return true
		}
		if strings.HasSuffix(f, ".*") && strings.HasPrefix(eventName, strings.TrimSuffix(f, "*")) {
			return true
		}
	}
	return false
}

// sendWithRetry wraps a single endpoint's delivery in its circuit breaker
// and a bounded exponential-backoff retry.
func (s *Sender) sendWithRetry(ctx context.Context, idx int, payload *Payload) error {
	ep := &s.endpoints[idx]

	retrier := retry.New[struct{}](retry.Config{
		MaxAttempts:   getRetryCount(ep),
		InitialDelay:  getRetryDelay(ep),
		MaxDelay:      getRetryDelay(ep) * 8,
		BackoffPolicy: retry.BackoffExponential,
		Multiplier:    2.0,
		Jitter:        true,
	})

	_, err := s.breakers[idx].Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.send(ctx, ep, payload)
		})
	})
	if err != nil {
		return rferrors.IOWrap(err, "webhook.send", fmt.Sprintf("delivery to %s failed", ep.URL))
	}
	return nil
}

// send performs one HTTP delivery.
func (s *Sender) send(ctx context.Context, ep *config.WebhookConfig, payload *Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, getTimeout(ep))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Refactory-Webhook/1.0")
	req.Header.Set("X-Refactory-Event", payload.Event)
	req.Header.Set("X-Refactory-Delivery", payload.PlanID)

	if ep.Secret != "" {
		req.Header.Set("X-Refactory-Signature", "sha256="+signPayload(body, ep.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// signPayload creates an HMAC-SHA256 signature of the payload.
func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature validates a received payload against its signature header.
// Helper for webhook receivers.
func VerifySignature(payload []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	expected := signPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
