package clock

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// mockUUIDs stubs uuidv1 to return the given ids in order, returning a
// function to undo the mocking.
func mockUUIDs(uuids ...uuid.UUID) func() {
	var i int
	old := uuidv1
	uuidv1 = func() uuid.UUID {
		id := uuids[i]
		i++
		return id
	}
	return func() { uuidv1 = old }
}

func TestNewReplicaID(t *testing.T) {
	want := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	defer mockUUIDs(want)()

	got := NewReplicaID()
	require.Equal(t, want.String(), got)
}

func TestSource_NewTimestamp(t *testing.T) {
	s := New()
	require.Equal(t, "00001", s.NewTimestamp())
	require.Equal(t, "00002", s.NewTimestamp())
	require.Equal(t, "00003", s.NewTimestamp())
}

func TestSource_CheckTimestamp(t *testing.T) {
	s := New()
	s.NewTimestamp() // 1

	s.CheckTimestamp("00009")
	require.Equal(t, uint64(9), s.Peek())

	// A lower observed timestamp never moves the high-water mark backward.
	s.CheckTimestamp("00003")
	require.Equal(t, uint64(9), s.Peek())

	require.Equal(t, "0000A", s.NewTimestamp())
}

func TestSource_CheckTimestamp_malformed(t *testing.T) {
	s := New()
	s.CheckTimestamp("not-base36-!!")
	require.Equal(t, uint64(0), s.Peek())
}
