// Package clock provides a concrete crdt.ClockSource: a Lamport logical
// clock paired with a replica id minted from a UUIDv1, following the
// bump-past-the-max rule used throughout the causal-tree/weave literature —
// a local op increments the counter by one, and observing a remote
// timestamp fast-forwards the counter to at least that value.
package clock

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/weavedoc/weave-crdt/crdt"
)

// uuidv1 mints a new replica identifier. Stubbed for mocking in
// clock_test.go.
var uuidv1 = randomUUIDv1

// randomMAC returns a random MAC address, used to seed UUIDv1 generation
// without leaking the host's real hardware address.
func randomMAC() []byte {
	mac := make([]byte, 6)
	if _, err := io.ReadFull(rand.Reader, mac); err != nil {
		panic(err.Error())
	}
	return mac
}

func randomUUIDv1() uuid.UUID {
	uuid.SetNodeID(randomMAC())
	id, err := uuid.NewUUID()
	if err != nil {
		panic(fmt.Sprintf("clock: creating UUIDv1: %v", err))
	}
	return id
}

// NewReplicaID returns a fresh replica identifier suitable for use as an
// AtomID's Source.
func NewReplicaID() string {
	return uuidv1().String()
}

// Source is a Lamport clock over crdt's fixed-width base36 timestamp
// encoding (§6, ClockSource). Timestamp 0 is reserved and never issued;
// the first call to NewTimestamp returns encoded 1.
type Source struct {
	mu   sync.Mutex
	last uint64
}

// New creates a Source starting from timestamp 0 (the next NewTimestamp
// call returns 1).
func New() *Source {
	return &Source{}
}

// NewTimestamp bumps the clock forward by one and returns the new value,
// encoded.
func (s *Source) NewTimestamp() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return crdt.EncodeTimestamp(s.last)
}

// CheckTimestamp fast-forwards the clock's high-water mark to at least the
// timestamp encoded in ts, so a subsequent local op never reuses a
// timestamp already observed from a remote op (the Lamport clock rule: on
// receipt, last = max(last, remote) then increment on the next local tick).
func (s *Source) CheckTimestamp(ts string) {
	n, err := crdt.DecodeTimestamp(ts)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.last {
		s.last = n
	}
}

// Peek returns the current high-water mark without advancing it, mainly
// useful for tests and debug output.
func (s *Source) Peek() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
