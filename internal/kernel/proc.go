package kernel

import (
	"sync"
	"sync/atomic"
)

// ProcState enumerates the process lifecycle states: UNUSED -> USED ->
// RUNNABLE -> RUNNING -> {RUNNABLE | SLEEPING | ZOMBIE} -> UNUSED.
type ProcState int

const (
	StateUnused ProcState = iota
	StateUsed
	StateRunnable
	StateRunning
	StateSleeping
	StateZombie
)

func (s ProcState) String() string {
	switch s {
	case StateUnused:
		return "UNUSED"
	case StateUsed:
		return "USED"
	case StateRunnable:
		return "RUNNABLE"
	case StateRunning:
		return "RUNNING"
	case StateSleeping:
		return "SLEEPING"
	case StateZombie:
		return "ZOMBIE"
	default:
		return "?"
	}
}

// OpenFile is a minimal stand-in for the out-of-scope file-system
// collaborator: just enough of an Fd_t (common.Fd_t in the teacher) to
// let fork duplicate descriptors and exit close them, refcounted the
// same way biscuit's fd table is.
type OpenFile struct {
	name string
	refs int32
}

// NewOpenFile opens a named file with one reference.
func NewOpenFile(name string) *OpenFile {
	return &OpenFile{name: name, refs: 1}
}

func (f *OpenFile) dup() *OpenFile {
	atomic.AddInt32(&f.refs, 1)
	return f
}

// close drops a reference and reports whether this was the last one.
func (f *OpenFile) close() bool {
	return atomic.AddInt32(&f.refs, -1) == 0
}

// Proc is one process-table slot: the record described by the data
// model, fields named to match (index/pid/state/next/affiliated_cpu/
// chan/killed/xstate/parent/sz/pagetable/cwd/ofile/name/lock/walk_lock),
// adapted to idiomatic Go naming. There is no trapframe; idx stands in
// for the kstack identity and switchChans for the saved context.
type Proc struct {
	idx int // stable slot index, assigned once at boot (kstack identity)
	pid int64

	mu     sync.Mutex // the record's "lock": guards state/waitChan/killed/xstate
	walkMu sync.Mutex // the record's "walk_lock": guards next/list membership only
	next   int        // intrusive-list link, -1 at a list's tail or when not on any list

	state    ProcState
	affCPU   int
	waitChan any // identity a Sleep/Wakeup pair rendezvous on
	killed   bool
	xstate   int

	parent *Proc // guarded by Kernel.waitLock, not by mu

	name  string
	sz    uint64
	pt    *PageTable
	mem   *UserSpace
	cwd   string
	ofile [NOFILE]*OpenFile

	body ProcBody
	switchChans
	launched bool
}

// Pid returns the process's pid. Safe to call without holding mu: pid is
// assigned once in allocProc and never changes until the slot is freed
// and reused, at which point callers holding a stale *Proc have already
// lost the race the spec calls out under "process table reuse".
func (p *Proc) Pid() int64 { return p.pid }

// State reports the current lifecycle state under the record lock.
func (p *Proc) State() ProcState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Name reports the process's name.
func (p *Proc) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Killed reports whether Kill has marked this process.
func (p *Proc) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
