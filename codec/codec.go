// Package codec implements the value<->bytes serialization layer (spec.md
// §4.1): primitives, ordered sequences, keyed mappings, dates, binary
// payloads, lazy byte sequences, and registered class instances, with large
// payloads spilling to a blob store.
package codec

import (
	"context"

	"github.com/wkfcore/wkf"
)

// BlobPutter is the subset of world.BlobStore the codec needs to spill
// oversized payloads. Defined locally (rather than importing world) to avoid
// a codec<->world import cycle — world's StreamStore values are themselves
// codec-encoded.
type BlobPutter interface {
	Put(ctx context.Context, data []byte) (wkf.BlobRef, error)
	Get(ctx context.Context, ref wkf.BlobRef) ([]byte, error)
}

// Codec encodes and decodes values exchanged with the log, the queue, and
// streams (spec.md §4.1). Implementations MUST be deterministic: encoding the
// same value tree twice yields byte-equal output.
type Codec interface {
	// Encode serializes value, spilling to a blob when it exceeds the
	// configured threshold.
	Encode(ctx context.Context, value any) (wkf.EncodedValue, error)

	// Decode resolves an EncodedValue back into target, fetching the blob
	// first when the value is a reference.
	Decode(ctx context.Context, value wkf.EncodedValue, target any) error

	// EncodeError turns a Go error into the wire error shape of spec.md §6.
	EncodeError(err error) wkf.ErrorInfo

	// DecodeError turns raw bytes (either the legacy JSON-encoded string form
	// or the object form) back into an error, per spec.md §6's
	// "MUST accept either" requirement.
	DecodeError(raw []byte) (wkf.ErrorInfo, error)
}
