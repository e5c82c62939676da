package rewrite

import "errors"

// Rewrite failures are local and non-destructive: the manipulator's held
// body is untouched whenever InjectCall returns one of these.
var (
	// ErrDecode indicates a malformed or truncated instruction stream.
	ErrDecode = errors.New("bytecode decode failure")

	// ErrOffsetInvalid indicates a target offset that is negative, out of
	// range, or not on an instruction boundary.
	ErrOffsetInvalid = errors.New("offset invalid")

	// ErrNoRoomForRelocation indicates the append strategy could not free
	// enough relocatable instructions for the trampoline.
	ErrNoRoomForRelocation = errors.New("no room for relocation")

	// ErrRelocationTargetConflict indicates a branch targets the interior
	// of the relocation window.
	ErrRelocationTargetConflict = errors.New("branch into relocated instructions")

	// ErrUpgradeExhausted indicates the cascading widening pass exceeded
	// its iteration bound.
	ErrUpgradeExhausted = errors.New("instruction argument upgrades exhausted")
)
