package patch

// Status is the lifecycle state of one breakpoint.
//
// Transitions:
//
//	(register)             -> Inactive
//	Inactive  (activate)   -> Active | Error
//	Active    (repatch)   <-> Error
//	any       (clear)      -> Done
//
// A repatch can move a breakpoint in either direction: an unrelated
// insertion can grow the method past an encoding limit and downgrade a
// previously Active breakpoint to Error, and a later removal can free room
// and upgrade an Error breakpoint back to Active.
type Status uint8

const (
	// StatusUnknown is returned for cookies that were never issued.
	StatusUnknown Status = iota

	// StatusInactive marks a registered breakpoint not yet eligible for
	// patching.
	StatusInactive

	// StatusActive marks a breakpoint currently patched into the method.
	StatusActive

	// StatusError marks a breakpoint whose insertion failed during the
	// last repatch.
	StatusError

	// StatusDone marks a cleared breakpoint. Terminal.
	StatusDone
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusError:
		return "error"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}
