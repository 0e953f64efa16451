package crdt

// ClockSource supplies fresh monotonic timestamps and lets the engine report
// timestamps it has observed, so the source can fast-forward its own
// high-water mark (§6). It is consumed, not implemented, by this package;
// see package clock for a concrete implementation.
type ClockSource interface {
	// NewTimestamp returns a fresh, monotonically non-decreasing encoded
	// timestamp (the "TTTTT" portion of an id).
	NewTimestamp() string
	// CheckTimestamp advances the source's high-water mark to at least ts.
	CheckTimestamp(ts string)
}

// Observer receives advisory warnings from the engine, such as an insert op
// referencing an id the local weave hasn't seen yet (§7, "Partial op").
// Warnings never block or fail the op they're raised from.
type Observer interface {
	Warnf(format string, args ...interface{})
}

// discardObserver drops every warning. Used when no Observer is supplied.
type discardObserver struct{}

func (discardObserver) Warnf(string, ...interface{}) {}

// OpSpec identifies the atom id that originated an operation: the (body,
// ext) pair of a causing/originating atom id, sufficient to reconstruct the
// ids an insert op generates (§6, "Op spec").
type OpSpec struct {
	// Body is the timestamp portion ("TTTTT" or "TTTTTss") of the
	// originating atom id.
	Body string
	// Ext is the source/replica portion of the originating atom id.
	Ext string
}

// InsertRun is the payload anchored at a single reference id within an
// insert op: a run of characters to splice in after that id, with an
// optional shared attribute map.
type InsertRun struct {
	Value      string
	Attributes Attrs
}

// InsertOp anchors each value at a reference id naming the atom after which
// it should appear (§4.2). The reference id may be live or tombstoned
// (co-tombstone addressing).
type InsertOp struct {
	Refs map[AtomID]InsertRun
}

// RemoveOp carries the set of ids to delete, wherever they currently live in
// the weave (§4.2).
type RemoveOp struct {
	IDs IDSet
}

// SetAttributesOp carries, for each id, the new attribute map to replace its
// current one with (§4.2). Ignored for tombstoned ids.
type SetAttributesOp struct {
	Entries map[AtomID]Attrs
}

// Op is the tagged union of the three replicated operations (spec.md §9,
// "Sum types over ad-hoc payloads").
type Op interface {
	isOp()
}

func (InsertOp) isOp()        {}
func (RemoveOp) isOp()        {}
func (SetAttributesOp) isOp() {}

// Engine applies replicated operations to a Weave, coordinating id
// generation with a ClockSource and reporting advisory warnings to an
// Observer (§4.2).
type Engine struct {
	Weave    *Weave
	Clock    ClockSource
	Observer Observer
}

// NewEngine creates an Engine over w, using clock for id generation. If
// observer is nil, warnings are discarded.
func NewEngine(w *Weave, clock ClockSource, observer Observer) *Engine {
	if observer == nil {
		observer = discardObserver{}
	}
	return &Engine{Weave: w, Clock: clock, Observer: observer}
}

// Apply dispatches op to the matching operation method.
func (e *Engine) Apply(spec OpSpec, op Op) error {
	switch v := op.(type) {
	case InsertOp:
		_, err := e.Insert(spec, v)
		return err
	case RemoveOp:
		return e.Remove(spec, v)
	case SetAttributesOp:
		return e.SetAttributes(spec, v)
	default:
		panic("crdt: unknown op type")
	}
}

// splitSeq splits an atom-id body into its 5-char timestamp and, if present,
// its 2-char sub-sequence suffix (decoded; 0 if absent) — §4.2 step 1.
func splitSeq(body string) (ts string, seqi int) {
	ts = body
	if len(body) > timestampWidth {
		ts = body[:timestampWidth]
		n, err := decodeFixed(body[timestampWidth:])
		if err == nil {
			seqi = int(n)
		}
	} else {
		ts = body[:min(len(body), timestampWidth)]
	}
	return ts, seqi
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Insert applies an insert op: splices ins's runs into the weave, anchored
// at their reference ids (§4.2). It returns the ids generated for newly
// inserted characters, in generation order, for use by the delta bridge's
// delta.FromInsert.
//
// Reference ids that don't match anything currently in the weave are
// skipped with an Observer warning (§7, "Partial op") rather than failing
// the whole call; matched keys still commit.
func (e *Engine) Insert(spec OpSpec, ins InsertOp) ([]AtomID, error) {
	w := e.Weave
	remaining := make(map[AtomID]InsertRun, len(ins.Refs))
	for k, v := range ins.Refs {
		remaining[k] = v
	}

	ts, seqi := splitSeq(spec.Body)
	if len(spec.Body) > timestampWidth {
		seqi++ // a suffixed body already names seqi itself; start past it
	}
	if seqi < 1 {
		// Fixed defect (spec.md §9 "seq-zero collision"): always start the
		// sub-sequence counter at 1 and always emit the suffix below, so a
		// generated id can never equal the op's own originating body.
		seqi = 1
	}

	var generated []AtomID
	var maxID AtomID
	haveMax := false

	i := 0
	for i < w.Len() && len(remaining) > 0 {
		var anchor AtomID
		found := false
		for k := range remaining {
			ok, err := w.MatchesOne(i, k, true)
			if err != nil {
				return nil, err
			}
			if ok {
				anchor = k
				found = true
				break
			}
		}
		if !found {
			i++
			continue
		}
		run := remaining[anchor]
		delete(remaining, anchor)

		// Concurrent-insertion tie-break (§4.2 step 4 and S2): an atom
		// already anchored here stays closer to the anchor than this run's
		// characters only while its full id sorts greater than the id the
		// first of those characters is about to receive. Comparing against
		// the bare op body (rather than this full candidate id) would make
		// every already-present id compare greater regardless of source —
		// since a longer string that shares a prefix with a shorter one
		// always sorts after it — so two concurrent inserts anchored at the
		// same predecessor with the same timestamp but different sources
		// (S2's "10000+A" vs "10000+B") would never converge: whichever op
		// applied first would always stay first, rather than the
		// lexicographically greater source sorting first regardless of
		// application order.
		candidate := AtomID{Body: ts + EncodeSeq(seqi), Source: spec.Ext}
		j := i + 1
		for j < w.Len() {
			atom, err := w.GetChar(j)
			if err != nil {
				return nil, err
			}
			if atom.ID.String() > candidate.String() {
				j++
				continue
			}
			break
		}

		runes := []rune(run.Value)
		for k, ch := range runes {
			id := AtomID{Body: ts + EncodeSeq(seqi), Source: spec.Ext}
			seqi++
			if err := w.InsertChar(j+k, ch, id, run.Attributes); err != nil {
				return nil, err
			}
			generated = append(generated, id)
			if !haveMax || maxID.Less(id) {
				maxID = id
				haveMax = true
			}
		}
		i = j + len(runes)
	}

	for k := range remaining {
		e.Observer.Warnf("crdt: insert: reference id %s not found, op partially skipped", k)
	}

	if haveMax && e.Clock != nil {
		e.Clock.CheckTimestamp(maxID.Body[:timestampWidth])
	}
	return generated, nil
}

// Remove applies a remove op: every id in rm.IDs that is found live or
// already tombstoned is folded into its predecessor's bucket (§4.2).
func (e *Engine) Remove(spec OpSpec, rm RemoveOp) error {
	w := e.Weave
	for i := 1; i < w.Len(); i++ {
		matched, err := w.MatchesAny(i, rm.IDs, true)
		if err != nil {
			return err
		}
		if matched {
			if err := w.DeleteChar(i); err != nil {
				return err
			}
			i--
		}
	}
	return nil
}

// SetAttributes applies a setAttributes op: for each (id, attrs) entry whose
// id still names a live atom, replaces that atom's attributes wholesale.
// Entries naming a tombstoned id are silently ignored (§4.2).
func (e *Engine) SetAttributes(spec OpSpec, attrs SetAttributesOp) error {
	w := e.Weave
	for i := 1; i < w.Len(); i++ {
		atom, err := w.GetChar(i)
		if err != nil {
			return err
		}
		newAttrs, ok := attrs.Entries[atom.ID]
		if !ok {
			continue
		}
		if err := w.SetCharAttr(i, newAttrs); err != nil {
			return err
		}
	}
	return nil
}

// InsertCharsAt is a convenience wrapper over Insert for the common case of
// a single run of characters anchored at one reference id (spec.md §6,
// "insertCharsAt(char, value, attrs)"). It returns the ids Insert generated.
func (e *Engine) InsertCharsAt(spec OpSpec, anchor AtomID, value string, attrs Attrs) ([]AtomID, error) {
	return e.Insert(spec, InsertOp{
		Refs: map[AtomID]InsertRun{
			anchor: {Value: value, Attributes: attrs},
		},
	})
}

// RmChars is a convenience wrapper over Remove for a plain collection of ids
// (spec.md §6, "rmChars(chars)").
func (e *Engine) RmChars(spec OpSpec, ids IDSet) error {
	return e.Remove(spec, RemoveOp{IDs: ids})
}

// Set replaces the weave's entire live content with newText under a shared
// attribute map: every live character is removed, then newText is inserted
// anchored at the base atom (spec.md §6, "set(newText, attrs), which removes
// the current range and inserts anchored at the base atom"). Both the
// removal and the insertion are applied under the same spec, the same way
// delta.ApplyDelta folds a whole edit script into one op spec.
func (e *Engine) Set(spec OpSpec, newText string, attrs Attrs) error {
	w := e.Weave
	ids := NewIDSet()
	for p := 1; p < w.Len(); p++ {
		atom, err := w.GetChar(p)
		if err != nil {
			return err
		}
		ids.Add(atom.ID)
	}
	if len(ids) > 0 {
		if err := e.RmChars(spec, ids); err != nil {
			return err
		}
	}
	if newText == "" {
		return nil
	}
	_, err := e.InsertCharsAt(spec, BaseAtomID, newText, attrs)
	return err
}
