package emit

import "context"

// NullEmitter discards every event. Used as the zero-configuration default
// so components never need a nil check before calling Emit.
type NullEmitter struct{}

func (NullEmitter) Emit(Event)                               {}
func (NullEmitter) EmitBatch(context.Context, []Event) error { return nil }
func (NullEmitter) Flush(context.Context) error              { return nil }
