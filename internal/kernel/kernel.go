package kernel

import (
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
)

// CPU is one simulated core's scheduler bookkeeping (current process,
// preemption flag); its ready queue is Kernel.ready[id].
type CPU struct {
	id      int
	current atomic.Int64 // pid of the currently running process, 0 if idle
	preempt atomic.Bool  // set by the preemption clock, consumed by ShouldPreempt
}

// Kernel owns the whole process table and every collaborator named in
// the spec: the CAS pid allocator, the four named membership lists
// (unused/sleeping/zombie, and one ready list per CPU), the simulated
// page allocator, and the observability bundle. Constructing one with
// NewKernel and then calling UserInit is the equivalent of
// procinit()+phys_init()+userinit().
type Kernel struct {
	mode  AffinityMode
	procs [NPROC]Proc

	pids     *pidAllocator
	waitLock sync.Mutex

	unused   *procList
	sleeping *procList
	zombie   *procList
	ready    [NCPU]*procList
	cpus     [NCPU]*CPU

	pages       *PageAllocator
	stealCursor casCounter
	usedCount   casCounter

	obs   *observability
	clock clockz.Clock

	initproc *Proc
}

// NewKernel allocates a kernel with an empty process table. Pass a
// clockz.FakeClock in tests to drive the preemption-timer path
// deterministically; pass nil in production to use clockz.RealClock.
func NewKernel(mode AffinityMode, clock clockz.Clock) *Kernel {
	if clock == nil {
		clock = clockz.RealClock
	}
	k := &Kernel{
		mode:  mode,
		pids:  newPIDAllocator(1),
		pages: NewPageAllocator(NPAGES),
		clock: clock,
		obs:   newObservability(clock),
	}
	k.unused = newProcList(&k.procs)
	k.sleeping = newProcList(&k.procs)
	k.zombie = newProcList(&k.procs)
	for i := range k.ready {
		k.ready[i] = newProcList(&k.procs)
		k.cpus[i] = &CPU{id: i}
	}

	// procinit(): every slot starts UNUSED, with a stable identity (the
	// kstack-assignment equivalent) and its switch channels preallocated.
	for i := range k.procs {
		p := &k.procs[i]
		p.idx = i
		p.next = -1
		p.state = StateUnused
		p.switchChans = newSwitchChans()
		k.unused.Push(i)
	}
	return k
}

// Close releases the observability bundle's background resources
// (tracer spans, hook dispatch goroutines).
func (k *Kernel) Close() {
	k.obs.close()
}

// findByPID scans the table for a USED-or-later slot with the given
// pid, the simulation's get_index(pid). Each candidate slot's mu is
// taken only long enough to compare pid and state, matching the original
// scan-under-lock shape rather than relying on an unsynchronized map.
func (k *Kernel) findByPID(pid int64) *Proc {
	for i := range k.procs {
		p := &k.procs[i]
		p.mu.Lock()
		match := p.state != StateUnused && p.pid == pid
		p.mu.Unlock()
		if match {
			return p
		}
	}
	return nil
}

// ProcInfo is a read-only snapshot of one table slot for introspection.
type ProcInfo struct {
	Pid    int64
	Name   string
	State  ProcState
	CPU    int
	Parent int64
}

// Snapshot lists every non-UNUSED process, the package-level debug
// helper grounded in proc.c's procdump() (invoked there from a console
// keystroke, not a syscall — same status here).
func (k *Kernel) Snapshot() []ProcInfo {
	var out []ProcInfo
	for i := range k.procs {
		p := &k.procs[i]
		p.mu.Lock()
		if p.state != StateUnused {
			info := ProcInfo{Pid: p.pid, Name: p.name, State: p.state, CPU: p.affCPU}
			if p.parent != nil {
				info.Parent = p.parent.pid
			}
			out = append(out, info)
		}
		p.mu.Unlock()
	}
	return out
}
