package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wkfcore/wkf"
)

// healthResponse is the single JSON line spec.md §6 defines for a health
// check reply: `{"healthy":true,"endpoint":"workflow"|"step","correlationId":"...","timestamp":<ms>}`.
type healthResponse struct {
	Healthy       bool   `json:"healthy"`
	Endpoint      string `json:"endpoint"`
	CorrelationID string `json:"correlationId"`
	Timestamp     int64  `json:"timestamp"`
}

// healthStreamName returns the well-known stream a health check's response
// is written to and read from (spec.md §4.7).
func healthStreamName(correlationID string) string {
	return "__health_check__" + correlationID
}

// handleHealthCheck is the endpoint side of spec.md §4.7's health protocol:
// it recognizes a health-check payload on queue, writes the single JSON
// response line to the well-known stream, and closes it. Health-check
// streams are exempt from run-existence validation — there is no runID to
// validate against, only the queue identifying which endpoint answered.
func (d *Dispatcher) handleHealthCheck(ctx context.Context, queue string, msg wkf.QueueMessage, hc healthCheckPayload) error {
	endpoint := "workflow"
	if queue == wkf.StepHealthQueueName {
		endpoint = "step"
	}

	resp := healthResponse{
		Healthy:       true,
		Endpoint:      endpoint,
		CorrelationID: hc.CorrelationID,
		Timestamp:     d.now().UnixMilli(),
	}
	line, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("dispatch: marshaling health response: %w", err)
	}

	streamName := healthStreamName(hc.CorrelationID)
	if err := d.World.Streams().Open(ctx, "", streamName, wkf.StreamJSONChunks); err != nil {
		return fmt.Errorf("dispatch: opening health stream %s: %w", streamName, err)
	}
	if err := d.World.Streams().Append(ctx, "", streamName, line); err != nil {
		return fmt.Errorf("dispatch: writing health response: %w", err)
	}
	if err := d.World.Streams().Close(ctx, "", streamName); err != nil {
		return fmt.Errorf("dispatch: closing health stream %s: %w", streamName, err)
	}

	return d.World.Queue().Ack(ctx, msg.QueueName, msg.MessageID)
}
