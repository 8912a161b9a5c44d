package kernel

import "sync"

// PageTable is the simulated out-of-scope address space collaborator:
// a process's set of owned physical pages plus its declared size. There
// is no real MMU here, no page faults, and no byte-level translation —
// just enough bookkeeping for growproc/fork/exit to exercise the page
// allocator's refcounting the way the real pt_create/pt_map/pt_free
// contracts would.
type PageTable struct {
	mu    sync.Mutex
	pages []int
	sz    uint64
}

// NewPageTable returns an empty address space (ptCreate).
func NewPageTable() *PageTable {
	return &PageTable{}
}

// Grow allocates n additional pages and maps them in, sys_growproc's
// growth path (ptGrow).
func (pt *PageTable) Grow(n uint64, pa *PageAllocator) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	got := make([]int, 0, n)
	for i := uint64(0); i < n; i++ {
		idx, err := pa.Alloc()
		if err != nil {
			for _, g := range got {
				pa.RefDec(g)
			}
			return err
		}
		got = append(got, idx)
	}
	pt.pages = append(pt.pages, got...)
	pt.sz += n
	return nil
}

// Shrink releases up to n pages back to the allocator (ptShrink).
func (pt *PageTable) Shrink(n uint64, pa *PageAllocator) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for i := uint64(0); i < n && len(pt.pages) > 0; i++ {
		last := len(pt.pages) - 1
		pa.RefDec(pt.pages[last])
		pt.pages = pt.pages[:last]
	}
	if n >= pt.sz {
		pt.sz = 0
	} else {
		pt.sz -= n
	}
}

// Copy duplicates the address space by bumping every owned page's
// refcount (pt_copy_user / uvmcopy's contract as seen from this
// component's boundary — the real copy-vs-share decision belongs to the
// out-of-scope VM subsystem).
func (pt *PageTable) Copy(pa *PageAllocator) *PageTable {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	np := &PageTable{sz: pt.sz, pages: make([]int, len(pt.pages))}
	copy(np.pages, pt.pages)
	for _, idx := range np.pages {
		pa.RefInc(idx)
	}
	return np
}

// Free releases every owned page (proc_freepagetable).
func (pt *PageTable) Free(pa *PageAllocator) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for _, idx := range pt.pages {
		pa.RefDec(idx)
	}
	pt.pages = nil
	pt.sz = 0
}

// Size returns the address space's declared size in pages.
func (pt *PageTable) Size() uint64 {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.sz
}

// UserSpace is a minimal byte-addressable stand-in for a process's user
// memory, just enough to give copy_to_user/copy_from_user/either_copyout
// real (if unchecked) semantics for wait()'s xstate copyout and similar
// syscall-boundary crossings.
type UserSpace struct {
	mu  sync.Mutex
	mem map[uint64][]byte
}

func NewUserSpace() *UserSpace {
	return &UserSpace{mem: make(map[uint64][]byte)}
}

func (u *UserSpace) CopyToUser(addr uint64, data []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	u.mem[addr] = buf
}

func (u *UserSpace) CopyFromUser(addr uint64, n int) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]byte, n)
	if buf, ok := u.mem[addr]; ok {
		copy(out, buf)
	}
	return out
}

// EitherCopyout copies to kernel memory (via kdst) or to the given
// user address space depending on fromKernel, folding proc.c's
// either_copyout(int user_dst, ...) into one call.
func EitherCopyout(fromKernel bool, kdst *[]byte, u *UserSpace, addr uint64, data []byte) {
	if fromKernel {
		*kdst = append((*kdst)[:0], data...)
		return
	}
	u.CopyToUser(addr, data)
}
