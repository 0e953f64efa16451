/*
Package crdt provides primitives to operate on a replicated rich-text document.

Replicated data types are structured such that they can be copied across
multiple sites in a distributed environment, mutated independently at each
site, and still be merged back without conflicts.

This implementation is a Weave: a flat, ordered sequence of Atoms, each
holding a single character and a tombstone bucket of previously deleted ids
that once sat immediately after it. It is based on the Causal Tree structure
proposed by Victor Grishchenko [1], following the excellent explanation by
Archagon [2], specialized to a flat per-position weave instead of a tree of
causal blocks.

[1]: GRISCHENKO, VICTOR. Causal trees: towards real-time read-write hypertext.
[2]: http://archagon.net/blog/2018/03/24/data-laced-with-history/
*/
package crdt

import (
	"fmt"
	"strconv"
	"strings"
)

// baseEncoding is the alphabet used to render a Lamport timestamp as a fixed-width
// string. Atom ids are compared lexicographically as strings (§3), so the encoding
// must preserve numeric order: bigger timestamps sort after smaller ones.
const baseEncoding = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

const base = uint64(len(baseEncoding))

// timestampWidth is the fixed width of the encoded Lamport timestamp portion
// of an atom id ("TTTTT" in the wire format).
const timestampWidth = 5

// seqWidth is the fixed width of the optional sub-sequence suffix ("ss").
const seqWidth = 2

// EncodeTimestamp renders ts as a fixed-width base36 string, zero-padded on
// the left. Larger timestamps compare greater as strings, matching their
// numeric order, as long as ts fits in timestampWidth digits.
func EncodeTimestamp(ts uint64) string {
	return encodeFixed(ts, timestampWidth)
}

// EncodeSeq renders a sub-sequence counter as a fixed two-character string,
// as long as seq fits in seqWidth base36 digits (below 1296); larger values
// render with more digits.
func EncodeSeq(seq int) string {
	return encodeFixed(uint64(seq), seqWidth)
}

func encodeFixed(n uint64, width int) string {
	var sb strings.Builder
	digits := make([]byte, 0, width)
	if n == 0 {
		digits = append(digits, baseEncoding[0])
	}
	for n > 0 {
		digits = append(digits, baseEncoding[n%base])
		n /= base
	}
	for i := len(digits); i < width; i++ {
		sb.WriteByte('0')
	}
	for i := len(digits) - 1; i >= 0; i-- {
		sb.WriteByte(digits[i])
	}
	return sb.String()
}

// DecodeTimestamp parses a fixed-width base36 timestamp previously produced
// by EncodeTimestamp.
func DecodeTimestamp(s string) (uint64, error) {
	return decodeFixed(s)
}

func decodeFixed(s string) (uint64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(baseEncoding, s[i])
		if idx < 0 {
			return 0, fmt.Errorf("crdt: invalid digit %q in encoded timestamp %q", s[i], s)
		}
		n = n*base + uint64(idx)
	}
	return n, nil
}

// AtomID is the unique identifier of an atom: a Lamport-style timestamp body
// (optionally carrying a sub-sequence suffix, see §4.2) paired with the
// source replica that minted it. Ids are compared lexicographically as
// strings throughout this package (§3) — AtomID itself is a thin wrapper
// around that wire form plus its parsed parts, kept around so callers don't
// re-parse strings they already hold.
type AtomID struct {
	// Body is the "TTTTT" or "TTTTTss" portion of the id.
	Body string
	// Source is the replica identifier ("SRC" in the wire format).
	Source string
}

// BaseAtomID is the id of the fixed head atom, shared by every Weave.
var BaseAtomID = AtomID{Body: "00000", Source: "swarm"}

// String renders the id in its wire form "TTTTT+SRC" / "TTTTTss+SRC".
func (id AtomID) String() string {
	return id.Body + "+" + id.Source
}

// ParseAtomID parses the wire form of an atom id.
func ParseAtomID(s string) (AtomID, error) {
	body, src, ok := strings.Cut(s, "+")
	if !ok {
		return AtomID{}, fmt.Errorf("crdt: malformed atom id %q: missing '+'", s)
	}
	if len(body) != timestampWidth && len(body) != timestampWidth+seqWidth {
		return AtomID{}, fmt.Errorf("crdt: malformed atom id %q: bad timestamp width", s)
	}
	return AtomID{Body: body, Source: src}, nil
}

// Timestamp decodes the numeric Lamport timestamp carried in the id's body,
// ignoring any sub-sequence suffix.
func (id AtomID) Timestamp() (uint64, error) {
	return decodeFixed(id.Body[:timestampWidth])
}

// Less reports whether id sorts strictly before other under the id
// comparison rule used throughout the package (plain lexicographic string
// comparison, per §3).
func (id AtomID) Less(other AtomID) bool {
	return id.String() < other.String()
}

// Empty reports whether id is the zero value, which can serve as a "no id"
// sentinel.
func (id AtomID) Empty() bool {
	return id == AtomID{}
}

// -----

// IDSet is an unordered collection of atom ids, used for tombstone buckets
// and for the "set of ids" shape that remove/setAttributes ops carry. It's a
// named type instead of a bare map so that Weave methods can accept either a
// single id or a whole set without runtime shape-sniffing (§4.1, and the
// REDESIGN FLAGS note in spec.md about dynamic parameter shapes).
type IDSet map[AtomID]struct{}

// NewIDSet builds a set from the given ids.
func NewIDSet(ids ...AtomID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s IDSet) Add(id AtomID) { s[id] = struct{}{} }

// Has reports whether id is a member of the set.
func (s IDSet) Has(id AtomID) bool {
	_, ok := s[id]
	return ok
}

// Union merges other's members into s in place.
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Intersects reports the number of ids in other also found in s.
func (s IDSet) Intersects(other IDSet) int {
	n := 0
	for id := range other {
		if s.Has(id) {
			n++
		}
	}
	return n
}

// Clone returns a shallow copy of s.
func (s IDSet) Clone() IDSet {
	c := make(IDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// -----

// Attrs is a rich-attribute map attached to an atom: attribute name to
// non-empty value. Attrs are immutable once attached to an atom — setting
// new attributes always replaces the map wholesale (§4.2's setAttributes),
// never mutates a stored map in place.
type Attrs map[string]interface{}

// normalizeAttrs drops falsy values (empty string, zero number, false,
// nil) from a cloned copy of attrs, returning nil if nothing survives. A nil
// result means "no attributes", matching §4.1's normalization rule.
func normalizeAttrs(attrs Attrs) Attrs {
	if len(attrs) == 0 {
		return nil
	}
	out := make(Attrs, len(attrs))
	for k, v := range attrs {
		if isFalsy(v) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isFalsy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case int:
		return x == 0
	case int64:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}

// cloneAttrs returns a shallow copy of attrs, or nil if attrs is empty.
func cloneAttrs(attrs Attrs) Attrs {
	if len(attrs) == 0 {
		return nil
	}
	out := make(Attrs, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// -----

// Atom is a single character in the weave plus its tombstone bucket and
// optional rich attributes (§3). The base atom is the only Atom whose Ch is
// empty and whose Attrs is always nil.
type Atom struct {
	// ID is this atom's primary identifier.
	ID AtomID
	// Ch is the single character payload. Empty only for the base atom.
	Ch rune
	// DeletedIDs is the tombstone bucket: ids of atoms previously deleted
	// at the position immediately following this atom.
	DeletedIDs IDSet
	// Attrs holds this atom's rich attributes, or nil for "no attributes".
	Attrs Attrs
}

func (a Atom) String() string {
	return fmt.Sprintf("Atom(%s, %s, attrs=%v, tombstones=%d)", a.ID, quoteRune(a.Ch), a.Attrs, len(a.DeletedIDs))
}

// baseAtom returns a fresh instance of the fixed head atom. Each Weave owns
// its own instance so that its mutable DeletedIDs set is never shared across
// weaves (spec.md §9, "Global state").
func baseAtom() Atom {
	return Atom{ID: BaseAtomID, DeletedIDs: make(IDSet)}
}

// quoteRune is a small helper used by Atom's debug String rendering.
func quoteRune(r rune) string {
	return strconv.QuoteRune(r)
}
