// Package health implements the caller side of spec.md §4.7's health-check
// sub-protocol: enqueue a correlation-id-tagged request, poll the matching
// reply stream, and report whether the answering endpoint is alive. The
// responder side lives in dispatch.Dispatcher.handleHealthCheck, which
// writes the single reply line this package reads.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/id"
	"github.com/wkfcore/wkf/world"
)

// defaultTimeout bounds how long Probe waits for a reply before giving up,
// per spec.md §4.7's health check having its own short deadline independent
// of the lifetime-clamped handler deadlines used elsewhere.
const defaultTimeout = 30 * time.Second

// pollInterval is how often Probe re-checks the reply stream while waiting.
const pollInterval = 100 * time.Millisecond

// Probe issues health checks against a workflow or step endpoint.
type Probe struct {
	World world.World

	// Timeout bounds how long Check waits for a reply. Defaults to
	// defaultTimeout.
	Timeout time.Duration
}

func (p *Probe) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return defaultTimeout
}

// Target selects which endpoint a Check is aimed at.
type Target string

const (
	TargetWorkflow Target = "workflow"
	TargetStep     Target = "step"
)

func (t Target) queueName() string {
	if t == TargetStep {
		return wkf.StepHealthQueueName
	}
	return wkf.WorkflowHealthQueueName
}

// Result is a completed health check's outcome.
type Result struct {
	Healthy       bool
	Endpoint      string
	CorrelationID string
	Timestamp     time.Time
}

type healthCheckPayload struct {
	HealthCheck   bool   `json:"__healthCheck"`
	CorrelationID string `json:"correlationId"`
}

type healthResponse struct {
	Healthy       bool   `json:"healthy"`
	Endpoint      string `json:"endpoint"`
	CorrelationID string `json:"correlationId"`
	Timestamp     int64  `json:"timestamp"`
}

func healthStreamName(correlationID string) string {
	return "__health_check__" + correlationID
}

// Check enqueues a health-check request against target and blocks until a
// reply lands on the correlated stream or ctx/Probe.Timeout runs out,
// whichever comes first.
func (p *Probe) Check(ctx context.Context, target Target) (Result, error) {
	correlationID := id.NewCorrelationID()
	payload, err := json.Marshal(healthCheckPayload{HealthCheck: true, CorrelationID: correlationID})
	if err != nil {
		return Result{}, fmt.Errorf("health: marshaling request: %w", err)
	}

	msg := wkf.QueueMessage{
		MessageID:      id.NewEventID(),
		QueueName:      target.queueName(),
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
		IdempotencyKey: correlationID,
		Attempt:        1,
	}
	if err := p.World.Queue().Enqueue(ctx, msg, 0); err != nil {
		return Result{}, fmt.Errorf("health: enqueuing request: %w", err)
	}

	deadline, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	streamName := healthStreamName(correlationID)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		chunks, closed, err := p.World.Streams().Read(deadline, "", streamName)
		if err == nil && closed && len(chunks) > 0 {
			var resp healthResponse
			if err := json.Unmarshal(chunks[0], &resp); err != nil {
				return Result{}, fmt.Errorf("health: decoding reply: %w", err)
			}
			return Result{
				Healthy:       resp.Healthy,
				Endpoint:      resp.Endpoint,
				CorrelationID: resp.CorrelationID,
				Timestamp:     time.UnixMilli(resp.Timestamp).UTC(),
			}, nil
		}

		select {
		case <-deadline.Done():
			return Result{}, fmt.Errorf("%w: %s", wkf.ErrHealthCheckTimeout, target.queueName())
		case <-ticker.C:
		}
	}
}
