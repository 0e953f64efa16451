package delta_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavedoc/weave-crdt/crdt"
	"github.com/weavedoc/weave-crdt/delta"
)

func newDoc(t *testing.T, body, ext, text string) (*crdt.Engine, []crdt.AtomID) {
	t.Helper()
	clock := &stubClock{body: body}
	e := crdt.NewEngine(crdt.NewWeave(), clock, nil)
	ids, err := e.Insert(crdt.OpSpec{Body: body, Ext: ext}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{crdt.BaseAtomID: {Value: text}},
	})
	require.NoError(t, err)
	return e, ids
}

type stubClock struct{ body string }

func (c *stubClock) NewTimestamp() string  { return c.body }
func (c *stubClock) CheckTimestamp(string) {}

func TestApplyDelta_insertAndRemove(t *testing.T) {
	e, _ := newDoc(t, "00001", "A", "Hello")

	// S5 (spec.md §8): retain 5, insert " world".
	applied, err := delta.ApplyDelta(e, crdt.OpSpec{Body: "00002", Ext: "A"}, delta.Delta{
		delta.Retain{N: 5},
		delta.Insert{Value: " world"},
	})
	require.NoError(t, err)
	require.Nil(t, applied.Remove)
	require.NotNil(t, applied.Insert)
	require.Equal(t, "Hello world", e.Weave.Text())
}

func TestApplyDelta_removesBeforeInserts(t *testing.T) {
	e, _ := newDoc(t, "00001", "A", "Hello")

	// Replace "ell" with "ipp": delete 3 starting at position 2, then
	// insert "ipp" anchored where the deletion left off.
	applied, err := delta.ApplyDelta(e, crdt.OpSpec{Body: "00002", Ext: "A"}, delta.Delta{
		delta.Retain{N: 1},
		delta.Delete{N: 3},
		delta.Insert{Value: "ipp"},
	})
	require.NoError(t, err)
	require.NotNil(t, applied.Remove)
	require.NotNil(t, applied.Insert)
	require.Equal(t, "Hippo", e.Weave.Text())
}

func TestFromInsert_roundTrip(t *testing.T) {
	e, _ := newDoc(t, "00001", "A", "Hello")

	ids, err := e.Insert(crdt.OpSpec{Body: "00002", Ext: "A"}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{
			// Anchored at the last character ('o'), as ApplyDelta would do
			// for retain(5); insert(" world").
			lastID(t, e.Weave): {Value: " world"},
		},
	})
	require.NoError(t, err)

	d, err := delta.FromInsert(e.Weave, ids)
	require.NoError(t, err)
	require.Equal(t, delta.Delta{
		delta.Retain{N: 5},
		delta.Insert{Value: " world"},
	}, d)
}

func lastID(t *testing.T, w *crdt.Weave) crdt.AtomID {
	t.Helper()
	atom, err := w.GetChar(w.Len() - 1)
	require.NoError(t, err)
	return atom.ID
}

func TestFromRemove_roundTrip(t *testing.T) {
	e, ids := newDoc(t, "00001", "A", "Hello")

	toRemove := crdt.NewIDSet(ids[1], ids[2]) // "e", first "l"
	err := e.Remove(crdt.OpSpec{Body: "00002", Ext: "A"}, crdt.RemoveOp{IDs: toRemove})
	require.NoError(t, err)
	require.Equal(t, "Hlo", e.Weave.Text())

	d, err := delta.FromRemove(e.Weave, toRemove)
	require.NoError(t, err)
	require.Equal(t, delta.Delta{
		delta.Retain{N: 1},
		delta.Delete{N: 2},
	}, d)
}

func TestFromTextDiff(t *testing.T) {
	d, err := delta.FromTextDiff("abcd", "xabdy")
	require.NoError(t, err)

	e := crdt.NewEngine(crdt.NewWeave(), &stubClock{body: "00001"}, nil)
	_, err = e.Insert(crdt.OpSpec{Body: "00001", Ext: "A"}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{crdt.BaseAtomID: {Value: "abcd"}},
	})
	require.NoError(t, err)

	_, err = delta.ApplyDelta(e, crdt.OpSpec{Body: "00002", Ext: "A"}, d)
	require.NoError(t, err)
	require.Equal(t, "xabdy", e.Weave.Text())
}
