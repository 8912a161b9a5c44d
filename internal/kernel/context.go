package kernel

// ProcBody is the "kernel/user code" a process runs once the scheduler
// first dispatches it, standing in for the real forkret()->usertrapret()
// entry path. It is handed the owning Kernel and its own Proc so it can
// call back into the lifecycle/sleep operations (Yield, Sleep, Exit)
// exactly as real kernel code calls sched()/sleep()/exit() from wherever
// it happens to be running.
type ProcBody func(k *Kernel, p *Proc)

// switchChans models switch(&from, &to) as a synchronous goroutine
// handoff over a pair of unbuffered channels, one per process slot. This
// is the idiom demonstrated by the pack's toy G/P/M scheduler simulation
// (the blockChan/availPs rendezvous): a process's body runs on its own
// goroutine that blocks on resumeCh until the scheduler signals it, and
// signals back on pausedCh the moment it re-enters sched() (via Yield,
// Sleep, or by returning from Exit). Because the handoff is synchronous
// and unbuffered, only one of {scheduler, process} is ever actually
// running at a time for a given CPU, preserving the spec's invariant
// that only sched() yields the CPU.
type switchChans struct {
	resumeCh chan struct{}
	pausedCh chan struct{}
}

func newSwitchChans() switchChans {
	return switchChans{resumeCh: make(chan struct{}), pausedCh: make(chan struct{})}
}

// launch starts the process body's goroutine. It blocks immediately on
// resumeCh, mirroring a freshly allocproc'd process whose context is set
// up to enter forkret and wait to be switched to for the first time.
func (p *Proc) launch(k *Kernel) {
	go func() {
		<-p.resumeCh
		p.body(k, p)
		p.pausedCh <- struct{}{}
	}()
}

// resumeAndWait is the scheduler side of switch(&from, &to): hand the
// CPU to p and block until p yields, sleeps, or exits.
func (p *Proc) resumeAndWait() {
	p.resumeCh <- struct{}{}
	<-p.pausedCh
}

// yieldToScheduler is the process side of switch(&to, &from): give the
// CPU back and block until resumed again. Yield and Sleep bottom out
// here, matching sched()'s single swtch(&p->context, &mycpu().context)
// call site; after Exit, the last handoff is launch's pausedCh send once
// the body returns.
func (p *Proc) yieldToScheduler() {
	p.pausedCh <- struct{}{}
	<-p.resumeCh
}
