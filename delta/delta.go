// Package delta bridges OT-style retain/insert/delete edit scripts and the
// crdt package's replicated operations (spec.md §4.3). It lets an editor
// that only speaks the OT delta grammar drive a Weave without ever
// constructing a crdt.InsertOp/RemoveOp by hand, and lets a replica that
// just applied a remote op describe its effect back as a delta for such an
// editor to replay.
package delta

import (
	"fmt"
	"strings"

	"github.com/weavedoc/weave-crdt/crdt"
	"github.com/weavedoc/weave-crdt/diff"
)

// Record is one step of an OT-style edit script: exactly one of Retain,
// Insert, or Delete (spec.md §9, "Sum types over ad-hoc payloads").
type Record interface {
	isRecord()
}

// Retain advances the cursor by N positions without modifying the weave.
type Retain struct {
	N int
}

// Insert anchors a run of text immediately before the cursor's current
// position, without advancing it.
type Insert struct {
	Value      string
	Attributes crdt.Attrs
}

// Delete removes the N atoms starting at the cursor's current position,
// advancing the cursor by N.
type Delete struct {
	N int
}

func (Retain) isRecord() {}
func (Insert) isRecord() {}
func (Delete) isRecord() {}

// Delta is an ordered edit script over a Weave's live positions.
type Delta []Record

// Applied holds the crdt ops ApplyDelta actually handed to the engine, so a
// caller can log or replicate them verbatim instead of re-deriving them
// from the same delta a second time.
type Applied struct {
	Remove *crdt.RemoveOp
	Insert *crdt.InsertOp
}

// ApplyDelta walks d's records against e's current weave, collecting a
// single removal set and a single insert map, then applies the removal
// before the insert so that insertion anchors still resolve (spec.md §4.3,
// §5 "Ordering guarantees").
func ApplyDelta(e *crdt.Engine, spec crdt.OpSpec, d Delta) (Applied, error) {
	w := e.Weave
	cursor := 1
	ins := make(map[crdt.AtomID]crdt.InsertRun)
	rm := crdt.NewIDSet()

	for _, rec := range d {
		switch r := rec.(type) {
		case Retain:
			cursor += r.N
		case Insert:
			anchor, err := w.GetChar(cursor - 1)
			if err != nil {
				return Applied{}, fmt.Errorf("delta: insert at cursor %d: %w", cursor, err)
			}
			ins[anchor.ID] = crdt.InsertRun{Value: r.Value, Attributes: r.Attributes}
		case Delete:
			for j := 0; j < r.N; j++ {
				atom, err := w.GetChar(cursor + j)
				if err != nil {
					return Applied{}, fmt.Errorf("delta: delete at cursor %d: %w", cursor+j, err)
				}
				rm.Add(atom.ID)
			}
			cursor += r.N
		default:
			return Applied{}, fmt.Errorf("delta: unrecognized record type %T", rec)
		}
	}

	var applied Applied
	if len(rm) > 0 {
		op := crdt.RemoveOp{IDs: rm}
		if err := e.Remove(spec, op); err != nil {
			return Applied{}, err
		}
		applied.Remove = &op
	}
	if len(ins) > 0 {
		op := crdt.InsertOp{Refs: ins}
		if _, err := e.Insert(spec, op); err != nil {
			return Applied{}, err
		}
		applied.Insert = &op
	}
	return applied, nil
}

// FromInsert derives the delta an editor should replay to mirror an insert
// op that has already been applied to w, given the ids the engine's Insert
// call generated. It scans the weave and emits retain/insert pairs for each
// contiguous run of generated ids, stopping once every id has been
// accounted for (spec.md §4.3, "deltaFromInsert").
func FromInsert(w *crdt.Weave, generated []crdt.AtomID) (Delta, error) {
	if len(generated) == 0 {
		return nil, nil
	}
	want := crdt.NewIDSet(generated...)
	remaining := len(generated)

	var d Delta
	cur := 1
	for p := 1; p < w.Len() && remaining > 0; {
		atom, err := w.GetChar(p)
		if err != nil {
			return nil, err
		}
		if !want.Has(atom.ID) {
			p++
			continue
		}
		start := p
		var sb strings.Builder
		var attrs crdt.Attrs
		for p < w.Len() {
			next, err := w.GetChar(p)
			if err != nil {
				return nil, err
			}
			if !want.Has(next.ID) {
				break
			}
			sb.WriteRune(next.Ch)
			attrs = next.Attrs
			p++
			remaining--
		}
		if gap := start - cur; gap > 0 {
			d = append(d, Retain{N: gap})
		}
		d = append(d, Insert{Value: sb.String(), Attributes: attrs})
		cur = p
	}
	return d, nil
}

// FromRemove derives the delta an editor should replay to mirror a remove
// op that has already been applied to w, given the ids it removed. It scans
// predecessor positions for bucket hits against ids, emitting retain/delete
// pairs, and stops once every id has been accounted for (spec.md §4.3,
// "deltaFromRemove").
func FromRemove(w *crdt.Weave, ids crdt.IDSet) (Delta, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var d Delta
	cur := 1
	matched := 0
	for p := 0; p < w.Len() && matched < len(ids); p++ {
		atom, err := w.GetChar(p)
		if err != nil {
			return nil, err
		}
		count := atom.DeletedIDs.Intersects(ids)
		if count == 0 {
			continue
		}
		target := p + 1
		if gap := target - cur; gap > 0 {
			d = append(d, Retain{N: gap})
		}
		d = append(d, Delete{N: count})
		cur = target
		matched += count
	}
	return d, nil
}

// FromTextDiff derives a delta transforming oldText into newText via the
// Myers edit-distance diff, for editors that only keep a before/after text
// snapshot (e.g. a plain <textarea>) instead of their own OT layer. The
// result feeds directly into ApplyDelta.
func FromTextDiff(oldText, newText string) (Delta, error) {
	ops, err := diff.Diff(oldText, newText)
	if err != nil {
		return nil, fmt.Errorf("delta: FromTextDiff: %w", err)
	}

	var d Delta
	var i int
	for i < len(ops) {
		switch ops[i].Op {
		case diff.Keep:
			n := 0
			for i < len(ops) && ops[i].Op == diff.Keep {
				n++
				i++
			}
			d = append(d, Retain{N: n})
		case diff.Delete:
			n := 0
			for i < len(ops) && ops[i].Op == diff.Delete {
				n++
				i++
			}
			d = append(d, Delete{N: n})
		case diff.Insert:
			var sb strings.Builder
			for i < len(ops) && ops[i].Op == diff.Insert {
				sb.WriteRune(ops[i].Char)
				i++
			}
			d = append(d, Insert{Value: sb.String()})
		default:
			return nil, fmt.Errorf("delta: FromTextDiff: unrecognized diff op %v", ops[i].Op)
		}
	}
	return d, nil
}
