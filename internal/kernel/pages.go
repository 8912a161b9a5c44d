package kernel

import (
	"sync"
	"sync/atomic"
)

// page is one slot of simulated physical memory: just a refcount, the
// same shape as kalloc.c's references[] array (physpg_t.refcnt in
// biscuit's main.go phys_init, minus the free-list-as-array-of-indices
// trick, which is reproduced below in PageAllocator.freelist).
type page struct {
	refcnt int32
}

// PageAllocator is the simulated out-of-scope physical page allocator
// named in the kernel's external collaborators: a fixed pool of pages
// with a freelist and CAS-updated refcounts, grounded directly in
// kalloc.c's kmem/kalloc()/kfree()/reference_add()/reference_remove().
type PageAllocator struct {
	mu       sync.Mutex
	freelist []int
	pages    []page
}

// NewPageAllocator builds a pool of n pages, all initially free, the
// simulation's analog of kinit()/freerange().
func NewPageAllocator(n int) *PageAllocator {
	pa := &PageAllocator{pages: make([]page, n), freelist: make([]int, n)}
	for i := range pa.freelist {
		pa.freelist[i] = i
	}
	return pa
}

// Alloc pops one page off the freelist and sets its refcount to 1,
// matching kalloc()'s "return page with refcnt 1" contract.
func (pa *PageAllocator) Alloc() (int, error) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	n := len(pa.freelist)
	if n == 0 {
		return -1, ErrNoMem
	}
	idx := pa.freelist[n-1]
	pa.freelist = pa.freelist[:n-1]
	atomic.StoreInt32(&pa.pages[idx].refcnt, 1)
	return idx, nil
}

// RefInc bumps a page's refcount via CAS, the allocator-side half of
// reference_add(pa) (used when a page becomes shared, e.g. fork's
// address-space copy deciding to share rather than duplicate).
func (pa *PageAllocator) RefInc(idx int) {
	for {
		old := atomic.LoadInt32(&pa.pages[idx].refcnt)
		if atomic.CompareAndSwapInt32(&pa.pages[idx].refcnt, old, old+1) {
			return
		}
	}
}

// RefDec drops a page's refcount via CAS and, if it reaches zero,
// returns it to the freelist — reference_remove(pa) followed by kfree()
// when the count bottoms out.
func (pa *PageAllocator) RefDec(idx int) {
	for {
		old := atomic.LoadInt32(&pa.pages[idx].refcnt)
		nw := old - 1
		if atomic.CompareAndSwapInt32(&pa.pages[idx].refcnt, old, nw) {
			if nw == 0 {
				pa.mu.Lock()
				pa.freelist = append(pa.freelist, idx)
				pa.mu.Unlock()
			}
			return
		}
	}
}

// RefCount reads a page's current refcount.
func (pa *PageAllocator) RefCount(idx int) int32 {
	return atomic.LoadInt32(&pa.pages[idx].refcnt)
}

// Free reports how many pages remain on the freelist, the simulation's
// pgcount() equivalent used by tests.
func (pa *PageAllocator) Free() int {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	return len(pa.freelist)
}
