package crdt_test

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/weavedoc/weave-crdt/clock"
	"github.com/weavedoc/weave-crdt/crdt"
)

// Models a single replica's weave as a slice of runes, subject to
// insertions, deletions, and attribute changes at random positions.
//
// Single-replica only: multi-replica, reordered-delivery convergence
// (spec.md §8 invariant 3) is exercised directly in engine_test.go's
// TestEngine_Insert_convergesAcrossReplicas instead of here, since rapid's
// state machine harness models one mutable weave, not a pair of engines
// applying the same ops in different orders.
type weaveModel struct {
	e     *crdt.Engine
	chars []rune
}

func (m *weaveModel) Init(t *rapid.T) {
	w := crdt.NewWeave()
	m.e = crdt.NewEngine(w, clock.New(), nil)
	m.chars = nil
}

func (m *weaveModel) spec() crdt.OpSpec {
	return crdt.OpSpec{Body: m.e.Clock.NewTimestamp(), Ext: "A"}
}

func (m *weaveModel) InsertCharAt(t *rapid.T) {
	ch := rapid.Rune().Draw(t, "ch").(rune)
	i := rapid.IntRange(0, len(m.chars)).Draw(t, "i").(int)

	anchor, err := m.e.Weave.GetChar(i)
	if err != nil {
		t.Fatalf("GetChar(%d): %v", i, err)
	}
	_, err = m.e.Insert(m.spec(), crdt.InsertOp{
		Refs: map[crdt.AtomID]crdt.InsertRun{
			anchor.ID: {Value: string(ch)},
		},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	m.chars = append(m.chars[:i], append([]rune{ch}, m.chars[i:]...)...)
}

func (m *weaveModel) DeleteCharAt(t *rapid.T) {
	if len(m.chars) == 0 {
		t.Skip("empty string")
	}
	i := rapid.IntRange(0, len(m.chars)-1).Draw(t, "i").(int)

	atom, err := m.e.Weave.GetChar(i + 1)
	if err != nil {
		t.Fatalf("GetChar(%d): %v", i+1, err)
	}
	if err := m.e.Remove(m.spec(), crdt.RemoveOp{IDs: crdt.NewIDSet(atom.ID)}); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	copy(m.chars[i:], m.chars[i+1:])
	m.chars = m.chars[:len(m.chars)-1]
}

func (m *weaveModel) SetAttributeAt(t *rapid.T) {
	if len(m.chars) == 0 {
		t.Skip("empty string")
	}
	i := rapid.IntRange(0, len(m.chars)-1).Draw(t, "i").(int)
	bold := rapid.Bool().Draw(t, "bold").(bool)

	atom, err := m.e.Weave.GetChar(i + 1)
	if err != nil {
		t.Fatalf("GetChar(%d): %v", i+1, err)
	}
	err = m.e.SetAttributes(m.spec(), crdt.SetAttributesOp{
		Entries: map[crdt.AtomID]crdt.Attrs{atom.ID: {"bold": bold}},
	})
	if err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}
}

func (m *weaveModel) Check(t *rapid.T) {
	got := m.e.Weave.Text()
	want := string(m.chars)
	if got != want {
		t.Fatalf("content mismatch: want %q but got %q", want, got)
	}
}

func TestWeaveProperty(t *testing.T) {
	rapid.Check(t, rapid.Run(&weaveModel{}))
}
