package kernel

import "sync/atomic"

// casCounter is a lock-free monotonic-ish counter updated with a
// compare-and-swap retry loop, the same shape as biscuit's icrw counters
// in main.go and xv6-riscv's reference_add/reference_remove in kalloc.c.
// Used for the pid allocator, the per-list length counters the balancer
// reads, the steal cursor and the in-use process count; physical-page
// refcounts (pages.go) use the same CAS loop on their own int32 fields.
type casCounter struct {
	v int64
}

func (c *casCounter) Load() int64 {
	return atomic.LoadInt64(&c.v)
}

func (c *casCounter) Store(n int64) {
	atomic.StoreInt64(&c.v, n)
}

// Add applies delta via a CAS retry loop and returns the new value.
func (c *casCounter) Add(delta int64) int64 {
	for {
		old := atomic.LoadInt64(&c.v)
		nw := old + delta
		if atomic.CompareAndSwapInt64(&c.v, old, nw) {
			return nw
		}
	}
}

// CompareAndSwap exposes the raw primitive for callers (the pid allocator,
// leastLoadedCPU's reservation) that need their own retry loop around
// extra logic.
func (c *casCounter) CompareAndSwap(old, nw int64) bool {
	return atomic.CompareAndSwapInt64(&c.v, old, nw)
}

// pidAllocator hands out monotonically increasing pids via CAS, matching
// proc.c's allocpid(): read nextpid, CAS it forward, retry on conflict.
type pidAllocator struct {
	next casCounter
}

func newPIDAllocator(start int64) *pidAllocator {
	p := &pidAllocator{}
	p.next.Store(start)
	return p
}

func (p *pidAllocator) Alloc() int64 {
	for {
		old := p.next.Load()
		nw := old + 1
		if p.next.CompareAndSwap(old, nw) {
			return old
		}
	}
}
