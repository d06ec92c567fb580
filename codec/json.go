package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/wkfcore/wkf"
)

// classEnvelope is the wire shape for a registered class instance: a
// discriminator plus the (possibly custom-serialized) payload, following the
// "closed sum type with a discriminator field" guidance from DESIGN NOTES §9.
type classEnvelope struct {
	ClassID string          `json:"__class__"`
	Data    json.RawMessage `json:"data"`
}

// Option configures a JSONCodec at construction time.
type Option func(*JSONCodec)

// WithBlobThreshold sets the byte size above which Encode spills a value to
// the blob store instead of inlining it (spec.md §4.1).
func WithBlobThreshold(n int) Option {
	return func(c *JSONCodec) { c.blobThreshold = n }
}

// WithClassRegistry attaches a frozen class registry for user-class round
// trips.
func WithClassRegistry(r *ClassRegistry) Option {
	return func(c *JSONCodec) { c.classes = r }
}

// JSONCodec is the reference Codec implementation: encoding.json plus
// explicit map-key sorting, so the "encode twice, byte-equal" determinism
// requirement holds even for map[string]any trees (encoding/json alone
// already sorts map keys since Go 1.12, but we sort explicitly here rather
// than lean on an unexported stdlib guarantee future Go versions could, in
// principle, change).
type JSONCodec struct {
	blobThreshold int
	classes       *ClassRegistry
	blobs         BlobPutter
}

// defaultBlobThreshold mirrors common "large object" practice (just under
// typical queue-message size caps); callers with a different backend budget
// should override via WithBlobThreshold.
const defaultBlobThreshold = 256 * 1024

// New constructs a JSONCodec. blobs may be nil only if no value encoded
// through this codec will ever exceed the blob threshold; Encode returns
// ErrEncodeFailure if a spill is needed but blobs is nil.
func New(blobs BlobPutter, opts ...Option) *JSONCodec {
	c := &JSONCodec{
		blobThreshold: defaultBlobThreshold,
		classes:       emptyClassRegistry,
		blobs:         blobs,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode implements Codec.
func (c *JSONCodec) Encode(ctx context.Context, value any) (wkf.EncodedValue, error) {
	wire, err := c.marshal(value)
	if err != nil {
		return wkf.EncodedValue{}, fmt.Errorf("%w: %v", wkf.ErrEncodeFailure, err)
	}

	if c.blobThreshold > 0 && len(wire) > c.blobThreshold {
		if c.blobs == nil {
			return wkf.EncodedValue{}, fmt.Errorf("%w: value of %d bytes exceeds threshold %d and no blob store is configured",
				wkf.ErrEncodeFailure, len(wire), c.blobThreshold)
		}
		ref, err := c.blobs.Put(ctx, wire)
		if err != nil {
			return wkf.EncodedValue{}, fmt.Errorf("codec: blob spill failed: %w", err)
		}
		return wkf.EncodedValue{Ref: &ref}, nil
	}

	return wkf.EncodedValue{Inline: wire}, nil
}

// marshal encodes value to its canonical byte form, routing through a
// registered class's Serialize hook first when applicable.
func (c *JSONCodec) marshal(value any) ([]byte, error) {
	if value == nil {
		return []byte("null"), nil
	}

	if classID, ok := classIDOf(value); ok {
		if hooks, found := c.classes.Lookup(classID); found && hooks.Serialize != nil {
			payload, err := hooks.Serialize(value)
			if err != nil {
				return nil, fmt.Errorf("class %s serialize hook: %w", classID, err)
			}
			data, err := canonicalJSON(payload)
			if err != nil {
				return nil, err
			}
			return canonicalJSON(classEnvelope{ClassID: classID, Data: data})
		}
	}

	return canonicalJSON(value)
}

// canonicalJSON marshals v and re-sorts any embedded map keys so that
// identical value trees always produce identical byte output, independent of
// Go map iteration order feeding json.Marshal's internal representation.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		// Not round-trippable through interface{} (shouldn't happen for
		// anything json.Marshal itself accepted); fall back to raw bytes.
		return raw, nil
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// classIDOf reports whether value implements an optional ClassID() string
// method, the hook used to opt a user type into registry-based round trips.
func classIDOf(value any) (string, bool) {
	type classIdentified interface{ ClassID() string }
	if ci, ok := value.(classIdentified); ok {
		return ci.ClassID(), true
	}
	return "", false
}

// Decode implements Codec.
func (c *JSONCodec) Decode(ctx context.Context, value wkf.EncodedValue, target any) error {
	wire := value.Inline
	if value.IsRef() {
		if c.blobs == nil {
			return fmt.Errorf("codec: value is a blob ref but no blob store is configured")
		}
		fetched, err := c.blobs.Get(ctx, *value.Ref)
		if err != nil {
			return fmt.Errorf("codec: blob fetch failed: %w", err)
		}
		wire = fetched
	}
	if len(wire) == 0 {
		return nil
	}

	var envelope classEnvelope
	if err := json.Unmarshal(wire, &envelope); err == nil && envelope.ClassID != "" {
		if hooks, found := c.classes.Lookup(envelope.ClassID); found && hooks.Deserialize != nil {
			var data any
			if err := json.Unmarshal(envelope.Data, &data); err != nil {
				return fmt.Errorf("class %s payload decode: %w", envelope.ClassID, err)
			}
			instance, err := hooks.Deserialize(data)
			if err != nil {
				return fmt.Errorf("class %s deserialize hook: %w", envelope.ClassID, err)
			}
			return assignInto(target, instance)
		}
	}

	return json.Unmarshal(wire, target)
}

// assignInto copies instance into the value target points to, used when a
// class Deserialize hook returns an already-constructed instance rather than
// populating target via json.Unmarshal.
func assignInto(target, instance any) error {
	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Ptr || tv.IsNil() {
		return fmt.Errorf("codec: decode target must be a non-nil pointer")
	}
	iv := reflect.ValueOf(instance)
	elem := tv.Elem()
	if iv.Kind() == reflect.Ptr && !iv.IsNil() && iv.Type().Elem() == elem.Type() {
		elem.Set(iv.Elem())
		return nil
	}
	if !iv.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("codec: class instance of type %s is not assignable to %s", iv.Type(), elem.Type())
	}
	elem.Set(iv)
	return nil
}

// EncodeError implements Codec.
func (c *JSONCodec) EncodeError(err error) wkf.ErrorInfo {
	if err == nil {
		return wkf.ErrorInfo{}
	}
	info := wkf.ErrorInfo{Message: err.Error()}
	var ce *wkf.ClassifiedError
	if errors.As(err, &ce) {
		info.Code = string(ce.Kind)
		if ce.Code != "" {
			info.Code = ce.Code
		}
	}
	return info
}

// DecodeError implements Codec, accepting either the legacy string-encoded
// form or the object form (spec.md §6).
func (c *JSONCodec) DecodeError(raw []byte) (wkf.ErrorInfo, error) {
	var info wkf.ErrorInfo
	if err := json.Unmarshal(raw, &info); err == nil && info.Message != "" {
		return info, nil
	}

	// Legacy form: a JSON string containing the message directly.
	var legacy string
	if err := json.Unmarshal(raw, &legacy); err == nil {
		return wkf.ErrorInfo{Message: legacy}, nil
	}

	return wkf.ErrorInfo{}, fmt.Errorf("codec: cannot decode error from %q", string(raw))
}
