package addrspace

import "errors"

// Sentinel errors surfaced across package boundaries, in the style of
// defs.go's fixed Err_t values rather than ad-hoc fmt.Errorf strings at
// every call site.
var (
	// ErrAddressOutOfRange is returned when a cursor operation targets an
	// address outside the cursor's locked range.
	ErrAddressOutOfRange = errors.New("addrspace: address out of range")

	// ErrLockAcquisitionFailed is returned by ScopedLock when the retry
	// budget is exhausted without a stable lock set.
	ErrLockAcquisitionFailed = errors.New("addrspace: lock acquisition failed")

	// ErrProtocolViolation marks a state that the locking protocol
	// guarantees cannot occur; reaching it is a bug, not a transient
	// condition, and is reported by panicking rather than returned.
	ErrProtocolViolation = errors.New("addrspace: protocol violation")
)
