package kernel

import "errors"

// Error sentinels for the process lifecycle and scheduler. Kept as plain
// sentinel values rather than a custom error hierarchy, matching the
// teacher's own common.Err_t usage at the handful of call sites where a
// distinguishable failure (table full, no memory, no such pid) matters to
// the caller; everything else panics, mirroring xv6's assertion style for
// precondition violations that indicate a kernel bug rather than a
// recoverable condition.
var (
	// ErrNoProc is returned when the process table has no UNUSED slot left.
	ErrNoProc = errors.New("kernel: no free process slot")
	// ErrNoMem is returned when the physical page allocator is exhausted.
	ErrNoMem = errors.New("kernel: no free physical page")
	// ErrNoSuchPID names a failed lookup by pid. Kill reports that case by
	// returning -1; no function in this package returns this error.
	ErrNoSuchPID = errors.New("kernel: no such pid")
	// ErrNoChildren is returned by Wait when the caller has no children at all.
	ErrNoChildren = errors.New("kernel: no children")
)
