package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
)

type capture struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	statuses []int
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.headers = append(c.headers, r.Header.Clone())
		c.statuses = append(c.statuses, status)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func endpoint(url, secret string, events ...string) config.WebhookConfig {
	return config.WebhookConfig{
		URL:        url,
		Secret:     secret,
		Events:     events,
		Timeout:    time.Second,
		RetryCount: 1,
		RetryDelay: 10 * time.Millisecond,
	}
}

func TestNotifyDeliversSignedPayload(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	s := NewSender([]config.WebhookConfig{endpoint(srv.URL, "s3cret")}, nil)
	err := s.Notify(context.Background(), "platform-team", "wave committed", "https://ci/plan/1")
	require.NoError(t, err)
	require.Equal(t, 1, c.count())

	var payload Payload
	require.NoError(t, json.Unmarshal(c.bodies[0], &payload))
	assert.Equal(t, "engine.notification", payload.Event)
	assert.Equal(t, "platform-team", payload.Data["audience"])

	sig := c.headers[0].Get("X-Refactory-Signature")
	require.NotEmpty(t, sig)
	assert.True(t, VerifySignature(c.bodies[0], sig, "s3cret"))
	assert.False(t, VerifySignature(c.bodies[0], sig, "wrong"))
}

func TestEventFilter(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	s := NewSender([]config.WebhookConfig{endpoint(srv.URL, "", "batch.*")}, nil)

	err := s.deliver(context.Background(), &Payload{Event: "batch.committed", Data: map[string]any{}})
	require.NoError(t, err)
	err = s.deliver(context.Background(), &Payload{Event: "plan.completed", Data: map[string]any{}})
	require.NoError(t, err)

	assert.Equal(t, 1, c.count(), "only the filtered event must be delivered")
}

func TestDisabledEndpointSkipped(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	disabled := false
	ep := endpoint(srv.URL, "")
	ep.Enabled = &disabled

	s := NewSender([]config.WebhookConfig{ep}, nil)
	require.NoError(t, s.Notify(context.Background(), "ops", "hello", ""))
	assert.Zero(t, c.count())
}

func TestServerErrorReported(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer srv.Close()

	s := NewSender([]config.WebhookConfig{endpoint(srv.URL, "")}, nil)
	err := s.Notify(context.Background(), "ops", "hello", "")
	require.Error(t, err)
}

func TestSubscriberTranslatesDomainEvents(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	s := NewSender([]config.WebhookConfig{endpoint(srv.URL, "")}, nil)
	sub := s.Subscriber()

	sub(&transform.BatchCommittedEvent{
		PlanID:  "plan-1",
		BatchID: "batch-1",
		Files:   3,
		Risk:    transform.RiskLow,
		At:      time.Now(),
	})

	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	var payload Payload
	require.NoError(t, json.Unmarshal(c.bodies[0], &payload))
	assert.Equal(t, "batch.committed", payload.Event)
	assert.Equal(t, "plan-1", payload.PlanID)
	assert.Equal(t, float64(3), payload.Data["files"])
}

func TestMatchesFilter(t *testing.T) {
	assert.True(t, matchesFilter(nil, "anything"))
	assert.True(t, matchesFilter([]string{"plan.created"}, "plan.created"))
	assert.True(t, matchesFilter([]string{"batch.*"}, "batch.transitioned"))
	assert.False(t, matchesFilter([]string{"batch.*"}, "plan.created"))
}
