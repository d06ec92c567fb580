package replay

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/codec"
	"github.com/wkfcore/wkf/id"
	"github.com/wkfcore/wkf/world"
)

// Ctx is the handle a WorkflowFunc receives in place of a plain
// context.Context. Every method that touches the outside world (a step, a
// sleep, a hook, a stream) consults the current tick's event prefix first; if
// the call site's decision is already recorded, the method returns
// synchronously with the recorded answer. Otherwise it records a new
// intention (step_requested/sleep_scheduled/hook_created) and suspends the
// tick via panic/recover, exactly as documented on the `suspended` type.
type Ctx struct {
	ctx          context.Context
	runID        string
	workflowName string
	log          *log
	world        world.World
	codec        codec.Codec
	now          time.Time
	rng          *rand.Rand
	pending      []wkf.Event // events this tick has decided to append before suspending/returning

	stepOccurrence  map[wkf.StepID]int
	sleepOccurrence int
	hookOccurrence  int
}

func newCtx(goCtx context.Context, runID, workflowName string, w world.World, c codec.Codec, events []wkf.Event, now time.Time) *Ctx {
	return &Ctx{
		ctx:            goCtx,
		runID:          runID,
		workflowName:   workflowName,
		log:            newLog(events),
		world:          w,
		codec:          c,
		now:            now,
		rng:            rand.New(rand.NewSource(seedFromRunID(runID))),
		stepOccurrence: make(map[wkf.StepID]int),
	}
}

// seedFromRunID derives a stable int64 seed from runID so that every replay
// of the same run produces the same sequence of ctx.Rand() values, per
// spec.md §4.3's "seeded random" deterministic substitute.
func seedFromRunID(runID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runID))
	return int64(h.Sum64()) // #nosec G115 -- deterministic seed, not security-sensitive
}

// RunID returns the run this tick is executing.
func (c *Ctx) RunID() string { return c.runID }

// WorkflowName returns the workflow this tick is executing.
func (c *Ctx) WorkflowName() string { return c.workflowName }

// Now returns the tick's frozen replay-time clock: every call within one
// tick (and every replay of the same tick) observes the identical instant,
// standing in for wall-clock reads the non-determinism guard forbids.
func (c *Ctx) Now() time.Time { return c.now }

// Rand returns the tick's seeded deterministic random source, standing in
// for math/rand the non-determinism guard forbids.
func (c *Ctx) Rand() *rand.Rand { return c.rng }

// Step intercepts a call to stepID with the given input (spec.md §4.3). On
// the first tick to reach this call site it emits step_requested and
// suspends; once a terminal step_completed/step_failed is recorded it
// decodes and returns the result instead of re-invoking anything (the actual
// invocation happens out-of-band, in the step package's Executor).
func (c *Ctx) Step(stepID wkf.StepID, input any) (wkf.EncodedValue, error) {
	occurrence := c.stepOccurrence[stepID]
	c.stepOccurrence[stepID] = occurrence + 1
	instanceID := wkf.NewInstanceID(stepID, occurrence)

	cluster := c.log.cluster(string(instanceID))
	outcome := resolveStep(cluster)

	if outcome.resolved {
		if outcome.failed {
			var info wkf.ErrorInfo
			if err := c.codec.Decode(c.ctx, outcome.failure, &info); err != nil {
				return wkf.EncodedValue{}, fmt.Errorf("replay: decoding step failure for %s: %w", instanceID, err)
			}
			return wkf.EncodedValue{}, &wkf.WorkflowRunFailedError{Cause: info}
		}
		return outcome.output, nil
	}

	if len(cluster) == 0 {
		encoded, err := c.codec.Encode(c.ctx, input)
		if err != nil {
			return wkf.EncodedValue{}, fmt.Errorf("%w: step %s input", wkf.ErrEncodeFailure, stepID)
		}
		c.requestStep(stepID, instanceID, encoded)
	}
	suspend("step " + string(instanceID) + " not yet resolved")
	return wkf.EncodedValue{}, nil
}

// stepRequestedPayload is step_requested's event data shape: enough for the
// dispatcher to build the step queue message (spec.md §6) without
// re-deriving anything from the workflow function.
type stepRequestedPayload struct {
	StepID     string           `json:"stepId"`
	InstanceID string           `json:"instanceId"`
	Input      wkf.EncodedValue `json:"input"`
}

func (c *Ctx) requestStep(stepID wkf.StepID, instanceID wkf.InstanceID, input wkf.EncodedValue) {
	data, err := c.codec.Encode(c.ctx, stepRequestedPayload{
		StepID:     string(stepID),
		InstanceID: string(instanceID),
		Input:      input,
	})
	if err != nil {
		data = wkf.EncodedValue{}
	}
	c.pending = append(c.pending, wkf.Event{
		EventID:       id.NewEventID(),
		RunID:         c.runID,
		EventType:     wkf.EventStepRequested,
		CreatedAt:     c.now,
		CorrelationID: string(instanceID),
		EventData:     data,
	})
}

// Sleep intercepts a durable delay of duration d (spec.md §4.3: "Sleeps are
// intercepted identically" to steps).
func (c *Ctx) Sleep(d time.Duration) error {
	occurrence := c.sleepOccurrence
	c.sleepOccurrence++
	instanceID := fmt.Sprintf("sleep#%d", occurrence)

	cluster := c.log.cluster(instanceID)
	if sleepResolved(cluster) {
		return nil
	}

	if len(cluster) == 0 {
		wakeAt := c.now.Add(d)
		payload := map[string]any{"wakeAt": wakeAt.Format(time.RFC3339Nano)}
		data, err := c.codec.Encode(c.ctx, payload)
		if err != nil {
			data = wkf.EncodedValue{}
		}
		c.pending = append(c.pending, wkf.Event{
			EventID:       id.NewEventID(),
			RunID:         c.runID,
			EventType:     wkf.EventSleepScheduled,
			CreatedAt:     c.now,
			CorrelationID: instanceID,
			EventData:     data,
		})
	}
	suspend("sleep " + instanceID + " not yet elapsed")
	return nil
}

// Hook creates (on first call) or resumes waiting on (on later replays) a
// durable pause point (spec.md §4.6's "await hook"). metadata is recorded
// with hook_created for an external caller to inspect via getHookByToken;
// the returned value is the data passed to resumeHook, decoded through the
// codec once present.
func (c *Ctx) Hook(metadata any) (wkf.EncodedValue, error) {
	occurrence := c.hookOccurrence
	c.hookOccurrence++
	instanceID := fmt.Sprintf("hook#%d", occurrence)

	cluster := c.log.cluster(instanceID)
	outcome, err := resolveHook(c.ctx, cluster, c.codec)
	if err != nil {
		return wkf.EncodedValue{}, err
	}

	if outcome.resumed {
		return outcome.data, nil
	}

	if !outcome.created {
		token := id.NewHookToken()
		encodedMeta, err := c.codec.Encode(c.ctx, metadata)
		if err != nil {
			return wkf.EncodedValue{}, fmt.Errorf("%w: hook metadata", wkf.ErrEncodeFailure)
		}
		data, err := c.codec.Encode(c.ctx, hookCreatedPayload{Token: token, Metadata: encodedMeta})
		if err != nil {
			return wkf.EncodedValue{}, fmt.Errorf("%w: hook_created payload", wkf.ErrEncodeFailure)
		}
		c.pending = append(c.pending, wkf.Event{
			EventID:       id.NewEventID(),
			RunID:         c.runID,
			EventType:     wkf.EventHookCreated,
			CreatedAt:     c.now,
			CorrelationID: instanceID,
			EventData:     data,
		})
	}
	suspend("hook " + instanceID + " not yet resumed")
	return wkf.EncodedValue{}, nil
}

// ReadStream returns a stream's full recorded chunk sequence once it has
// been closed; otherwise it suspends, matching spec.md §4.3's "stream reads
// bind to recorded chunk sequences."
func (c *Ctx) ReadStream(name string) ([][]byte, error) {
	chunks, closed, err := c.world.Streams().Read(c.ctx, c.runID, name)
	if err != nil {
		return nil, err
	}
	if !closed {
		suspend("stream " + name + " not yet closed")
	}
	return chunks, nil
}
