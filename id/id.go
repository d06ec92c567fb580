// Package id generates the identifiers used throughout the engine: run ids,
// event ids, and hook tokens. Run and event ids are lexicographically
// sortable ULIDs so that storage backends can index on them directly; hook
// tokens are unguessable random values that never need to sort.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RunPrefix is prepended to every run id on the wire (spec §6: "wrun_" + ULID).
const RunPrefix = "wrun_"

// entropy is a monotonic ULID source shared process-wide. ulid.Monotonic
// guarantees strictly increasing ids for calls within the same millisecond,
// which is what "monotonic within a process" in the Run entity invariant
// requires.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// NewRunID returns a fresh "wrun_"-prefixed, sortable run identifier.
func NewRunID() string {
	return RunPrefix + newULID().String()
}

// NewEventID returns a fresh sortable event identifier (bare ULID, no prefix
// per spec §6 — only run, step and health-check correlation ids carry
// literal prefixes).
func NewEventID() string {
	return newULID().String()
}

// NewCorrelationID returns a fresh "hc_"-prefixed id for health-check round trips.
func NewCorrelationID() string {
	return "hc_" + newULID().String()
}

// tokenEncoding is unpadded base32 per spec §6 ("128-bit random, base32-encoded").
var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewHookToken returns a base32-encoded, single-use, unguessable token made
// from a random (v4) UUID. The token encodes 128 bits, of which 122 are
// random; the other 6 are the UUID's fixed version and variant bits.
func NewHookToken() string {
	u := uuid.New()
	return strings.ToLower(tokenEncoding.EncodeToString(u[:]))
}

// RunIDFromPrefixed strips the "wrun_" prefix, returning the bare ULID and
// whether the prefix was present.
func RunIDFromPrefixed(runID string) (string, bool) {
	if !strings.HasPrefix(runID, RunPrefix) {
		return runID, false
	}
	return strings.TrimPrefix(runID, RunPrefix), true
}
