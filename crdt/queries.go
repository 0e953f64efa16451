package crdt

import "fmt"

// CharRef names a single position in the weave for navigation/range queries:
// either a concrete atom id (live or tombstoned) or the EOF sentinel,
// standing for "past the last live atom" (spec.md §9, "Sum types over
// ad-hoc payloads": CharRef = Id(string) | Atom(AtomRef) | Eof — the Atom
// variant collapses into Id here, since every lookup only ever needs the
// id to find a position).
type CharRef struct {
	id    AtomID
	isEOF bool
}

// RefID wraps an atom id as a CharRef.
func RefID(id AtomID) CharRef { return CharRef{id: id} }

// EOF is the sentinel CharRef denoting "past the last live atom".
var EOF = CharRef{isEOF: true}

// IsEOF reports whether ref is the EOF sentinel.
func (ref CharRef) IsEOF() bool { return ref.isEOF }

// ID returns the wrapped atom id. Only meaningful when !ref.IsEOF().
func (ref CharRef) ID() AtomID { return ref.id }

// WrapMode selects how GetCharRelativeTo reconciles an out-of-range target
// position (§4.4).
type WrapMode int

const (
	// WrapAround reduces the target position modulo Len().
	WrapAround WrapMode = iota
	// WrapLimit clamps the target position into [0, Len()-1].
	WrapLimit
	// WrapEOF clamps negative targets to 0 and returns the EOF sentinel
	// for any target at or beyond Len().
	WrapEOF
	// WrapError fails if the target position is out of range.
	WrapError
)

// IndexOf returns the position of the atom with the given id, or -1 if not
// found. includeDeleted controls whether tombstoned ids are searched too.
func (w *Weave) IndexOf(id AtomID, includeDeleted bool) int {
	if p, ok := w.index[id]; ok {
		return p
	}
	if !includeDeleted {
		return -1
	}
	for p, atom := range w.atoms {
		if atom.DeletedIDs.Has(id) {
			return p
		}
	}
	return -1
}

// GetCharAt returns a copy of the atom at position p. Alias of GetChar,
// named to match the observable surface in spec.md §6.
func (w *Weave) GetCharAt(p int) (Atom, error) {
	return w.GetChar(p)
}

// positionOf resolves ref to a weave position, treating EOF as Len() (one
// past the last live atom) — used where EOF must compare as strictly
// greater than every real position (GetCharRelativeTo, CompareCharPos).
func (w *Weave) positionOf(ref CharRef) (int, error) {
	if ref.isEOF {
		return w.Len(), nil
	}
	p := w.IndexOf(ref.id, true)
	if p < 0 {
		return 0, fmt.Errorf("crdt: %s: %w", ref.id, ErrUnknownID)
	}
	return p, nil
}

// GetCharRelativeTo finds ref's position (including tombstones), adds
// relative, and reconciles the result per wrap (§4.4).
//
// If ref is the EOF sentinel itself, its position is taken to be Len(): a
// negative relative counts backward from there (-1 is the last live atom),
// while zero or a positive relative stays at or moves further past the end.
func (w *Weave) GetCharRelativeTo(ref CharRef, relative int, wrap WrapMode) (CharRef, error) {
	pos, err := w.positionOf(ref)
	if err != nil {
		return CharRef{}, err
	}
	target := pos + relative
	return w.reconcile(target, wrap)
}

func (w *Weave) reconcile(target int, wrap WrapMode) (CharRef, error) {
	n := w.Len()
	switch wrap {
	case WrapAround:
		idx := ((target % n) + n) % n
		return RefID(w.atoms[idx].ID), nil
	case WrapLimit:
		if target < 0 {
			target = 0
		} else if target >= n {
			target = n - 1
		}
		return RefID(w.atoms[target].ID), nil
	case WrapEOF:
		if target < 0 {
			target = 0
		} else if target >= n {
			return EOF, nil
		}
		return RefID(w.atoms[target].ID), nil
	case WrapError:
		if target < 0 || target >= n {
			return CharRef{}, fmt.Errorf("crdt: relative position %d: %w", target, ErrOutOfRange)
		}
		return RefID(w.atoms[target].ID), nil
	default:
		return CharRef{}, ErrBadWrapMode
	}
}

// GetTextRange returns the atoms strictly after from, up to and including
// to. If to is the zero CharRef (use EOF explicitly to mean "through the
// last atom"), pass to as EOF or omit by calling GetTextRangeToEnd. Returns
// an empty slice if from == to, and fails if to precedes from (§4.4).
func (w *Weave) GetTextRange(from, to CharRef) ([]Atom, error) {
	posFrom, err := w.rangeBound(from)
	if err != nil {
		return nil, err
	}
	posTo, err := w.rangeBound(to)
	if err != nil {
		return nil, err
	}
	if posTo < posFrom {
		return nil, fmt.Errorf("crdt: GetTextRange: %w", ErrRangeOrder)
	}
	if posFrom == posTo {
		return []Atom{}, nil
	}
	out := make([]Atom, 0, posTo-posFrom)
	for p := posFrom + 1; p <= posTo; p++ {
		out = append(out, w.atoms[p].clone())
	}
	return out, nil
}

// GetTextRangeToEnd is GetTextRange(from, EOF): every atom after from, up to
// the last live atom.
func (w *Weave) GetTextRangeToEnd(from CharRef) ([]Atom, error) {
	return w.GetTextRange(from, EOF)
}

// rangeBound resolves ref to a weave position for GetTextRange, treating EOF
// as the position of the last live atom (spec.md §4.4: "if to is omitted,
// up to the last live atom").
func (w *Weave) rangeBound(ref CharRef) (int, error) {
	if ref.isEOF {
		return w.Len() - 1, nil
	}
	p := w.IndexOf(ref.id, true)
	if p < 0 {
		return 0, fmt.Errorf("crdt: %s: %w", ref.id, ErrUnknownID)
	}
	return p, nil
}

// CompareCharPos returns <0, 0, >0 according to a's and b's relative weave
// position. The EOF sentinel compares greater than every real atom and
// equal to itself. Fails if either ref names an id not found in the weave
// (§4.4).
func (w *Weave) CompareCharPos(a, b CharRef) (int, error) {
	posA, err := w.positionOf(a)
	if err != nil {
		return 0, err
	}
	posB, err := w.positionOf(b)
	if err != nil {
		return 0, err
	}
	switch {
	case posA < posB:
		return -1, nil
	case posA > posB:
		return 1, nil
	default:
		return 0, nil
	}
}
