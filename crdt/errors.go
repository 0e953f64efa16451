package crdt

import "errors"

// Errors returned by Weave and Operation Engine methods (spec.md §7).
var (
	// ErrOutOfRange covers any out-of-bounds position access, including
	// insert/delete at position 0.
	ErrOutOfRange = errors.New("crdt: position out of range")
	// ErrBaseAtomImmutable is returned when code attempts to alter the
	// base atom's attributes.
	ErrBaseAtomImmutable = errors.New("crdt: base atom can't be altered")
	// ErrRangeOrder is returned by GetTextRange when 'to' precedes 'from'
	// in the weave.
	ErrRangeOrder = errors.New("crdt: range end precedes range start")
	// ErrUnknownID is returned when a query references an id not present
	// in the weave.
	ErrUnknownID = errors.New("crdt: unknown atom id")
	// ErrBadWrapMode is returned for an unrecognized WrapMode value.
	ErrBadWrapMode = errors.New("crdt: unrecognized wrap mode")
	// ErrDuplicateID is returned by InsertChar when the given id already
	// exists in the weave, live or tombstoned.
	ErrDuplicateID = errors.New("crdt: id already present in weave")
)
