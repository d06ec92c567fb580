package wkf

import "time"

// RunStatus is a view computed over the event log (spec.md §4.7's state
// machine) — it is never stored as a separate authoritative flag.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether status is one of the absorbing terminal states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// LegacyVersionGate is the specVersion boundary from spec.md §6: runs created
// with an older version are routed to the compatibility path.
const LegacyVersionGate = "4.1.0-beta.0"

// CurrentSpecVersion is the specVersion new runs are created with.
const CurrentSpecVersion = "4.1.0"

// Run is the data-model entity from spec.md §3. Its fields are a materialized
// projection of the event log — EventLog remains the source of truth; nothing
// here is written independently of an event append.
type Run struct {
	RunID        string
	WorkflowID   string
	SpecVersion  string
	Status       RunStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Arguments    EncodedValue
	ReturnValue  EncodedValue
	FailureCause *ErrorInfo
}

// IsLegacy reports whether the run predates the spec's event-sourced format
// gate (spec.md §6).
func (r Run) IsLegacy() bool {
	return r.SpecVersion < LegacyVersionGate
}

// EventType is the closed set of event variants from spec.md §3.
type EventType string

const (
	EventRunCreated         EventType = "run_created"
	EventRunStarted         EventType = "run_started"
	EventStepRequested      EventType = "step_requested"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventStepRetryScheduled EventType = "step_retry_scheduled"
	EventSleepScheduled     EventType = "sleep_scheduled"
	EventWaitStarted        EventType = "wait_started"
	EventWaitCompleted      EventType = "wait_completed"
	EventHookCreated        EventType = "hook_created"
	EventHookResumed        EventType = "hook_resumed"
	EventStreamOpened       EventType = "stream_opened"
	EventStreamChunk        EventType = "stream_chunk"
	EventStreamClosed       EventType = "stream_closed"
	EventRunCompleted       EventType = "run_completed"
	EventRunFailed          EventType = "run_failed"
	EventRunCancelled       EventType = "run_cancelled"
)

// knownEventTypes backs IsKnownEventType; kept as a map literal next to the
// const block so adding a variant to one and forgetting the other fails
// loudly in code review rather than silently at runtime.
var knownEventTypes = map[EventType]bool{
	EventRunCreated: true, EventRunStarted: true, EventStepRequested: true,
	EventStepStarted: true, EventStepCompleted: true, EventStepFailed: true,
	EventStepRetryScheduled: true, EventSleepScheduled: true,
	EventWaitStarted: true, EventWaitCompleted: true, EventHookCreated: true,
	EventHookResumed: true, EventStreamOpened: true, EventStreamChunk: true,
	EventStreamClosed: true, EventRunCompleted: true, EventRunFailed: true,
	EventRunCancelled: true,
}

// IsKnownEventType rejects unknown future variants with a clear error rather
// than silently dropping them (DESIGN NOTES §9).
func IsKnownEventType(t EventType) bool { return knownEventTypes[t] }

// terminalRunTypes end the run itself; no non-informational event may follow
// them (spec.md §4.2).
var terminalRunTypes = map[EventType]bool{
	EventRunCompleted: true, EventRunFailed: true, EventRunCancelled: true,
}

// IsTerminalRunEvent reports whether t ends the run.
func IsTerminalRunEvent(t EventType) bool { return terminalRunTypes[t] }

// informationalEventTypes may still be appended (and are silently dropped,
// never erroring) after a run has reached a terminal state — late stream
// chunks from a step that was still flushing output when the run concluded.
var informationalEventTypes = map[EventType]bool{
	EventStreamChunk: true,
}

// IsInformationalEvent reports whether t is exempt from TerminalRunError.
func IsInformationalEvent(t EventType) bool { return informationalEventTypes[t] }

// Event is the single append-only record from spec.md §3. Total order within
// a run is (CreatedAt, EventID).
type Event struct {
	EventID       string
	RunID         string
	EventType     EventType
	CreatedAt     time.Time
	CorrelationID string
	EventData     EncodedValue
}

// EncodedValue is the Codec's output shape (DESIGN NOTES §9): a tagged union
// of an inline payload or a reference to a blob, decoded lazily. Exactly one
// of Inline/Ref is set; IsRef distinguishes them.
type EncodedValue struct {
	Inline []byte
	Ref    *BlobRef
}

// IsRef reports whether the value was stored out-of-line.
func (v EncodedValue) IsRef() bool { return v.Ref != nil }

// IsZero reports whether v carries no payload at all (neither inline bytes
// nor a ref) — the zero value, used for "no arguments"/"no return value yet".
func (v EncodedValue) IsZero() bool { return v.Inline == nil && v.Ref == nil }

// BlobRef points at a large payload stored out-of-line via World.Blobs().
type BlobRef struct {
	ID   string
	Size int64
}

// StepInstanceStatus is a view computed by scanning a step instance's event
// cluster for its latest attempt's terminal event (spec.md §3's "Step
// invocation" entity).
type StepInstanceStatus string

const (
	StepPending   StepInstanceStatus = "pending"
	StepStarted   StepInstanceStatus = "started"
	StepCompleted StepInstanceStatus = "completed"
	StepFailed    StepInstanceStatus = "failed"
)

// Hook is the durable pause-point entity from spec.md §3.
type Hook struct {
	Token      string
	RunID      string
	Metadata   EncodedValue
	CreatedAt  time.Time
	ResumedAt  *time.Time
}

// Consumed reports whether the hook has already been resumed.
func (h Hook) Consumed() bool { return h.ResumedAt != nil }

// StreamType distinguishes the two stream content shapes spec.md §3 allows.
type StreamType string

const (
	StreamBytes      StreamType = "bytes"
	StreamJSONChunks StreamType = "json-chunks"
)

// StreamInfo is the (runId, streamName) entity from spec.md §3.
type StreamInfo struct {
	RunID     string
	Name      string
	Namespace string
	Type      StreamType
	OpenedAt  time.Time
	ClosedAt  *time.Time
}

// Closed reports whether the stream has been closed.
func (s StreamInfo) Closed() bool { return s.ClosedAt != nil }

// QueueMessage is the wire envelope from spec.md §6.
type QueueMessage struct {
	MessageID      string
	QueueName      string
	Payload        []byte
	CreatedAt      time.Time
	IdempotencyKey string
	Attempt        int
	RequestedAt    *time.Time
}

// Age returns how long ago the message was created, relative to now.
func (m QueueMessage) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}
