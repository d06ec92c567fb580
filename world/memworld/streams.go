package memworld

import (
	"context"
	"strings"
	"sync"

	"github.com/wkfcore/wkf"
)

type stream struct {
	typ    wkf.StreamType
	chunks [][]byte
	closed bool
}

// StreamStore is an in-memory world.StreamStore. Open and Append perform no
// run-existence check. Health-check streams (named
// "__health_check__<correlationId>") are created implicitly on first
// Append, without an Open.
type StreamStore struct {
	mu      sync.RWMutex
	streams map[string]*stream // "runID/name" -> stream
}

// NewStreamStore returns an empty StreamStore.
func NewStreamStore() *StreamStore {
	return &StreamStore{streams: make(map[string]*stream)}
}

const healthCheckStreamPrefix = "__health_check__"

// IsHealthCheckStream reports whether name follows the well-known
// health-check stream naming convention.
func IsHealthCheckStream(name string) bool {
	return strings.HasPrefix(name, healthCheckStreamPrefix)
}

func key(runID, name string) string { return runID + "/" + name }

func (s *StreamStore) Open(_ context.Context, runID, name string, typ wkf.StreamType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streams[key(runID, name)] = &stream{typ: typ}
	return nil
}

func (s *StreamStore) Append(_ context.Context, runID, name string, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[key(runID, name)]
	if !ok {
		if !IsHealthCheckStream(name) {
			return wkf.ErrNotFound
		}
		st = &stream{typ: wkf.StreamBytes}
		s.streams[key(runID, name)] = st
	}
	if st.closed {
		return wkf.ErrBadMessage
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	st.chunks = append(st.chunks, cp)
	return nil
}

func (s *StreamStore) Close(_ context.Context, runID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[key(runID, name)]
	if !ok {
		return wkf.ErrNotFound
	}
	st.closed = true
	return nil
}

func (s *StreamStore) Read(_ context.Context, runID, name string) ([][]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[key(runID, name)]
	if !ok {
		return nil, false, wkf.ErrNotFound
	}
	out := make([][]byte, len(st.chunks))
	copy(out, st.chunks)
	return out, st.closed, nil
}
