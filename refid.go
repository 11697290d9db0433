package streamkit

import (
	"strconv"
	"sync/atomic"
)

// referenceIDCounter is a process-wide monotonic counter: the server
// uses reference ids as keys, so uniqueness must hold across every
// subscription in the process, not just within one Subscription or one
// StreamingHost.
var referenceIDCounter atomic.Uint64

// nextReferenceID allocates a fresh, process-wide unique reference id.
func nextReferenceID() string {
	return strconv.FormatUint(referenceIDCounter.Add(1), 10)
}
