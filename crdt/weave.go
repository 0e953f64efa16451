package crdt

import "fmt"

// Weave is the ordered sequence of live atoms held by a single replica
// (§3). Position 0 always holds the base atom; it's never inserted beside,
// deleted, or re-styled. All mutation happens through the methods below —
// callers never get a pointer into the backing slice, only values or
// snapshots, so external code can't corrupt an atom's bucket behind the
// weave's back (spec.md §5, "Shared-resource policy").
type Weave struct {
	atoms []Atom
	// index maps a live primary id to its position in atoms, mirroring the
	// teacher's per-site yarn lookup, adapted to this model's globally
	// comparable string ids instead of (site,index) pairs.
	index map[AtomID]int
}

// NewWeave creates a weave containing only the base atom.
func NewWeave() *Weave {
	w := &Weave{
		atoms: []Atom{baseAtom()},
		index: make(map[AtomID]int),
	}
	w.index[BaseAtomID] = 0
	return w
}

// Len returns the number of live atoms, including the base atom (≥ 1).
func (w *Weave) Len() int {
	return len(w.atoms)
}

// GetChar returns a copy of the atom at position p. Fails if p is out of
// bounds.
func (w *Weave) GetChar(p int) (Atom, error) {
	if p < 0 || p >= len(w.atoms) {
		return Atom{}, fmt.Errorf("crdt: GetChar(%d): %w", p, ErrOutOfRange)
	}
	return w.atoms[p].clone(), nil
}

// clone returns a defensive copy of the atom: its bucket and attribute map
// are independent from the weave's own copy.
func (a Atom) clone() Atom {
	out := a
	out.DeletedIDs = a.DeletedIDs.Clone()
	out.Attrs = cloneAttrs(a.Attrs)
	return out
}

// InsertChar splices a fresh atom at position p (1 ≤ p ≤ Len()). id must not
// already exist anywhere in the weave, live or tombstoned.
func (w *Weave) InsertChar(p int, ch rune, id AtomID, attrs Attrs) error {
	if p < 1 || p > len(w.atoms) {
		return fmt.Errorf("crdt: InsertChar(%d): %w", p, ErrOutOfRange)
	}
	if w.contains(id) {
		return fmt.Errorf("crdt: InsertChar: id %s already present: %w", id, ErrDuplicateID)
	}
	atom := Atom{
		ID:         id,
		Ch:         ch,
		DeletedIDs: make(IDSet),
		Attrs:      normalizeAttrs(attrs),
	}
	w.atoms = append(w.atoms, Atom{})
	copy(w.atoms[p+1:], w.atoms[p:])
	w.atoms[p] = atom
	w.reindexFrom(p)
	return nil
}

// contains reports whether id is known anywhere in the weave, live or
// tombstoned.
func (w *Weave) contains(id AtomID) bool {
	if _, ok := w.index[id]; ok {
		return true
	}
	for _, atom := range w.atoms {
		if atom.DeletedIDs.Has(id) {
			return true
		}
	}
	return false
}

// reindexFrom rebuilds the id→position index for positions at or after p,
// called after a splice shifts everything following it.
func (w *Weave) reindexFrom(p int) {
	for i := p; i < len(w.atoms); i++ {
		w.index[w.atoms[i].ID] = i
	}
}

// DeleteChar removes the atom at position p (1 ≤ p < Len()), merging its id
// and its own bucket into the bucket of the atom at p-1 (§3, "Deletion
// buckets propagate on further deletion").
func (w *Weave) DeleteChar(p int) error {
	if p < 1 || p >= len(w.atoms) {
		return fmt.Errorf("crdt: DeleteChar(%d): %w", p, ErrOutOfRange)
	}
	removed := w.atoms[p]
	pred := &w.atoms[p-1]
	pred.DeletedIDs.Add(removed.ID)
	pred.DeletedIDs.Union(removed.DeletedIDs)

	delete(w.index, removed.ID)
	w.atoms = append(w.atoms[:p], w.atoms[p+1:]...)
	w.reindexFrom(p)
	return nil
}

// SetCharAttr replaces the attributes of the atom at position p (1 ≤ p <
// Len()) wholesale. The base atom's attributes can never be changed.
func (w *Weave) SetCharAttr(p int, attrs Attrs) error {
	if p == 0 {
		return fmt.Errorf("crdt: SetCharAttr(0): %w", ErrBaseAtomImmutable)
	}
	if p < 1 || p >= len(w.atoms) {
		return fmt.Errorf("crdt: SetCharAttr(%d): %w", p, ErrOutOfRange)
	}
	w.atoms[p].Attrs = normalizeAttrs(cloneAttrs(attrs))
	return nil
}

// MatchesOne reports whether the atom at position p has primary id equal to
// id, or (when includeDeleted) whether id is in its tombstone bucket.
func (w *Weave) MatchesOne(p int, id AtomID, includeDeleted bool) (bool, error) {
	if p < 0 || p >= len(w.atoms) {
		return false, fmt.Errorf("crdt: MatchesOne(%d): %w", p, ErrOutOfRange)
	}
	atom := w.atoms[p]
	if atom.ID == id {
		return true, nil
	}
	if includeDeleted && atom.DeletedIDs.Has(id) {
		return true, nil
	}
	return false, nil
}

// MatchesAny reports whether the atom at position p matches any id in ids,
// as primary id or (when includeDeleted) as a tombstone bucket member.
func (w *Weave) MatchesAny(p int, ids IDSet, includeDeleted bool) (bool, error) {
	n, err := w.MatchCount(p, ids, includeDeleted)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MatchCount returns the number of ids from ids that hit the atom at
// position p: 0 or 1 for the primary id, plus (when includeDeleted) the size
// of the bucket∩ids intersection.
func (w *Weave) MatchCount(p int, ids IDSet, includeDeleted bool) (int, error) {
	if p < 0 || p >= len(w.atoms) {
		return 0, fmt.Errorf("crdt: MatchCount(%d): %w", p, ErrOutOfRange)
	}
	atom := w.atoms[p]
	n := 0
	if ids.Has(atom.ID) {
		n++
	}
	if includeDeleted {
		n += atom.DeletedIDs.Intersects(ids)
	}
	return n, nil
}

// Text concatenates the character payload of every live atom after the base
// atom (which carries no character), so it is simply the document's contents.
func (w *Weave) Text() string {
	runes := make([]rune, 0, len(w.atoms))
	for _, atom := range w.atoms[1:] {
		runes = append(runes, atom.Ch)
	}
	return string(runes)
}
