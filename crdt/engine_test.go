package crdt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavedoc/weave-crdt/crdt"
)

type fakeClock struct {
	body string
	seen []string
}

func (c *fakeClock) NewTimestamp() string { return c.body }
func (c *fakeClock) CheckTimestamp(ts string) {
	c.seen = append(c.seen, ts)
}

func newEngine(body string) (*crdt.Engine, *fakeClock) {
	clock := &fakeClock{body: body}
	return crdt.NewEngine(crdt.NewWeave(), clock, nil), clock
}

func TestEngine_Insert_atStart(t *testing.T) {
	e, _ := newEngine("00001")
	ids, err := e.Insert(crdt.OpSpec{Body: "00001", Ext: "A"}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{
			crdt.BaseAtomID: {Value: "hi"},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Equal(t, "hi", e.Weave.Text())
}

func TestEngine_Insert_seqAlwaysSuffixed(t *testing.T) {
	// Regression for the seq-zero collision design note (spec.md §9): every
	// generated id must carry the two-char suffix, so it can never collide
	// with the op's own 5-char body.
	e, _ := newEngine("00001")
	ids, err := e.Insert(crdt.OpSpec{Body: "00001", Ext: "A"}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{
			crdt.BaseAtomID: {Value: "x"},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.NotEqual(t, "00001", ids[0].Body)
	require.Len(t, ids[0].Body, 7)
}

func TestEngine_Insert_concurrentTiebreak(t *testing.T) {
	e, _ := newEngine("00001")
	_, err := e.Insert(crdt.OpSpec{Body: "00005", Ext: "B"}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{crdt.BaseAtomID: {Value: "b"}},
	})
	require.NoError(t, err)

	// A second op anchored at the same base atom, with a lexicographically
	// smaller body, must sort after the first: ids greater than the op's
	// own body stay closer to the anchor.
	_, err = e.Insert(crdt.OpSpec{Body: "00003", Ext: "A"}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{crdt.BaseAtomID: {Value: "a"}},
	})
	require.NoError(t, err)
	require.Equal(t, "ba", e.Weave.Text())
}

func TestEngine_Insert_convergesAcrossReplicas(t *testing.T) {
	// S2: two replicas insert concurrently anchored at the base atom with
	// the same timestamp but different sources. Applying the two ops in
	// either order must converge to the same text and the same sequence of
	// primary ids (spec.md §8 invariant 3): "10000+B" > "10000+A"
	// lexicographically, so B's character sorts before A's regardless of
	// which op a given replica happened to apply first.
	specA := crdt.OpSpec{Body: "10000", Ext: "A"}
	specB := crdt.OpSpec{Body: "10000", Ext: "B"}
	insA := crdt.InsertOp{Refs: map[crdt.AtomID]crdt.InsertRun{crdt.BaseAtomID: {Value: "a"}}}
	insB := crdt.InsertOp{Refs: map[crdt.AtomID]crdt.InsertRun{crdt.BaseAtomID: {Value: "b"}}}

	e1, _ := newEngine("10000")
	_, err := e1.Insert(specA, insA)
	require.NoError(t, err)
	_, err = e1.Insert(specB, insB)
	require.NoError(t, err)

	e2, _ := newEngine("10000")
	_, err = e2.Insert(specB, insB)
	require.NoError(t, err)
	_, err = e2.Insert(specA, insA)
	require.NoError(t, err)

	require.Equal(t, "ba", e1.Weave.Text())
	require.Equal(t, e1.Weave.Text(), e2.Weave.Text())

	atom1a, err := e1.Weave.GetChar(1)
	require.NoError(t, err)
	atom2a, err := e2.Weave.GetChar(1)
	require.NoError(t, err)
	require.Equal(t, atom1a.ID, atom2a.ID)

	atom1b, err := e1.Weave.GetChar(2)
	require.NoError(t, err)
	atom2b, err := e2.Weave.GetChar(2)
	require.NoError(t, err)
	require.Equal(t, atom1b.ID, atom2b.ID)
}

func TestEngine_InsertCharsAt(t *testing.T) {
	e, _ := newEngine("00001")
	ids, err := e.InsertCharsAt(crdt.OpSpec{Body: "00001", Ext: "A"}, crdt.BaseAtomID, "hi", nil)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Equal(t, "hi", e.Weave.Text())
}

func TestEngine_RmChars(t *testing.T) {
	e, _ := newEngine("00001")
	ids, err := e.InsertCharsAt(crdt.OpSpec{Body: "00001", Ext: "A"}, crdt.BaseAtomID, "hello", nil)
	require.NoError(t, err)

	err = e.RmChars(crdt.OpSpec{Body: "00002", Ext: "A"}, crdt.NewIDSet(ids[1], ids[2]))
	require.NoError(t, err)
	require.Equal(t, "hlo", e.Weave.Text())
}

func TestEngine_Set_roundTrips(t *testing.T) {
	// spec.md §8: "set(s) then text() yields s."
	e, _ := newEngine("00001")
	_, err := e.InsertCharsAt(crdt.OpSpec{Body: "00001", Ext: "A"}, crdt.BaseAtomID, "hello world", nil)
	require.NoError(t, err)

	err = e.Set(crdt.OpSpec{Body: "00002", Ext: "A"}, "goodbye", nil)
	require.NoError(t, err)
	require.Equal(t, "goodbye", e.Weave.Text())

	// Setting to empty text clears the document entirely.
	err = e.Set(crdt.OpSpec{Body: "00003", Ext: "A"}, "", nil)
	require.NoError(t, err)
	require.Equal(t, "", e.Weave.Text())
	require.Equal(t, 1, e.Weave.Len())

	// Setting back to non-empty content after clearing still round-trips.
	err = e.Set(crdt.OpSpec{Body: "00004", Ext: "A"}, "reborn", crdt.Attrs{"bold": true})
	require.NoError(t, err)
	require.Equal(t, "reborn", e.Weave.Text())
}

func TestEngine_Insert_partialOpWarns(t *testing.T) {
	e, _ := newEngine("00001")
	var warnings []string
	e.Observer = observerFunc(func(format string, args ...interface{}) {
		warnings = append(warnings, format)
	})
	unknown := crdt.AtomID{Body: "99999", Source: "Z"}
	ids, err := e.Insert(crdt.OpSpec{Body: "00001", Ext: "A"}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{
			crdt.BaseAtomID: {Value: "ok"},
			unknown:         {Value: "skip"},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Equal(t, "ok", e.Weave.Text())
	require.Len(t, warnings, 1)
}

type observerFunc func(format string, args ...interface{})

func (f observerFunc) Warnf(format string, args ...interface{}) { f(format, args...) }

func TestEngine_Remove(t *testing.T) {
	e, _ := newEngine("00001")
	ids, err := e.Insert(crdt.OpSpec{Body: "00001", Ext: "A"}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{crdt.BaseAtomID: {Value: "hello"}},
	})
	require.NoError(t, err)

	err = e.Remove(crdt.OpSpec{Body: "00002", Ext: "A"}, crdt.RemoveOp{
		IDs: crdt.NewIDSet(ids[1], ids[2]), // "e", "l"
	})
	require.NoError(t, err)
	require.Equal(t, "hlo", e.Weave.Text())
}

func TestEngine_SetAttributes_ignoresTombstones(t *testing.T) {
	e, _ := newEngine("00001")
	ids, err := e.Insert(crdt.OpSpec{Body: "00001", Ext: "A"}, crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{crdt.BaseAtomID: {Value: "hi"}},
	})
	require.NoError(t, err)
	require.NoError(t, e.Remove(crdt.OpSpec{Body: "00002", Ext: "A"}, crdt.RemoveOp{
		IDs: crdt.NewIDSet(ids[0]),
	}))

	err = e.SetAttributes(crdt.OpSpec{Body: "00003", Ext: "A"}, crdt.SetAttributesOp{
		Entries: map[crdt.AtomID]crdt.Attrs{
			ids[0]: {"bold": true}, // tombstoned, ignored
			ids[1]: {"italic": true},
		},
	})
	require.NoError(t, err)

	atom, err := e.Weave.GetChar(1)
	require.NoError(t, err)
	require.Equal(t, crdt.Attrs{"italic": true}, atom.Attrs)
}
