package kernel

import (
	"context"
	"fmt"
)

// allocProc pops a slot off the unused list and initializes it as a USED
// process whose parent is set to parent (nil for a root process), mirroring
// proc.c's allocproc(): assign a pid, wire up the address space and the
// context entry point (here, the body goroutine), leave state USED for
// the caller (userinit/fork) to promote to RUNNABLE once fully set up.
func (k *Kernel) allocProc(name string, parent *Proc, body ProcBody) (*Proc, error) {
	idx, ok := k.unused.Pop()
	if !ok {
		return nil, ErrNoProc
	}
	p := &k.procs[idx]
	p.mu.Lock()
	p.pid = k.pids.Alloc()
	p.state = StateUsed
	p.name = name
	p.killed = false
	p.xstate = 0
	p.waitChan = nil
	p.parent = parent
	p.pt = NewPageTable()
	p.mem = NewUserSpace()
	p.body = body
	p.launched = false
	p.affCPU = 0
	p.mu.Unlock()
	k.obs.updatePIDCounter(p.pid)
	k.obs.updateProcsUsed(k.usedCount.Add(1))
	return p, nil
}

// freeProc removes a ZOMBIE slot from the zombie list, clears every
// field, and returns it to the unused list — proc.c's freeproc(), which
// is always called with the record already known to be a reaped zombie.
func (k *Kernel) freeProc(p *Proc) {
	k.zombie.Remove(p.idx)

	p.mu.Lock()
	if p.pt != nil {
		p.pt.Free(k.pages)
	}
	for i, f := range p.ofile {
		if f != nil {
			f.close()
		}
		p.ofile[i] = nil
	}
	p.pt = nil
	p.mem = nil
	p.name = ""
	p.pid = 0
	p.sz = 0
	p.parent = nil
	p.killed = false
	p.xstate = 0
	p.waitChan = nil
	p.body = nil
	p.launched = false
	p.state = StateUnused
	p.mu.Unlock()

	k.unused.Push(p.idx)
	k.obs.updateListLens(k.sleeping.Len(), k.zombie.Len())
	k.obs.updateProcsUsed(k.usedCount.Add(-1))
}

// UserInit bootstraps the very first process directly onto CPU 0,
// bypassing Fork, matching proc.c's userinit(): it becomes the eventual
// reparent target for every orphaned process. Later calls add further
// parentless processes but leave initproc unchanged.
func (k *Kernel) UserInit(name string, body ProcBody) *Proc {
	p, err := k.allocProc(name, nil, body)
	if err != nil {
		panic("kernel: userinit: " + err.Error())
	}
	p.mu.Lock()
	p.state = StateRunnable
	p.affCPU = 0
	p.mu.Unlock()

	p.launch(k)
	p.launched = true

	k.ready[0].Push(p.idx)
	k.obs.updateReadyLen(0, k.ready[0].Len())
	if k.initproc == nil {
		k.initproc = p
	}
	return p
}

// Fork creates childName as a new child of parent, duplicating parent's
// address space (via PageTable.Copy's refcount bump) and open files, and
// places it RUNNABLE on a target CPU chosen by the kernel's affinity
// mode. Unlike a real fork(), which duplicates the parent's execution
// state so both copies resume from the same point, this simulation has
// no machine registers to duplicate: childBody is the explicit program
// the new process runs, supplied by the caller the way a real kernel's
// post-fork exec() would install one. See DESIGN.md for why this
// departure from copy-and-continue was necessary.
func (k *Kernel) Fork(ctx context.Context, parent *Proc, childName string, childBody ProcBody) (*Proc, error) {
	ctx, span := k.obs.tracer.StartSpan(ctx, SpanFork)
	defer span.Finish()

	child, err := k.allocProc(childName, parent, childBody)
	if err != nil {
		return nil, err
	}

	parent.mu.Lock()
	child.pt = parent.pt.Copy(k.pages)
	child.sz = parent.sz
	child.cwd = parent.cwd
	for i, f := range parent.ofile {
		if f != nil {
			child.ofile[i] = f.dup()
		}
	}
	parentCPU := parent.affCPU
	parent.mu.Unlock()

	k.waitLock.Lock()
	child.parent = parent
	k.waitLock.Unlock()

	target := parentCPU
	if k.mode == ModeBalanced {
		target = k.leastLoadedCPU()
	}

	child.mu.Lock()
	child.state = StateRunnable
	child.affCPU = target
	child.mu.Unlock()

	child.launch(k)
	child.launched = true

	k.ready[target].Push(child.idx)
	k.obs.updateReadyLen(target, k.ready[target].Len())
	span.SetTag(TagPid, fmt.Sprintf("%d", child.pid))
	span.SetTag(TagCPU, fmt.Sprintf("%d", target))
	k.obs.emitFork(ctx, parent.pid, child.pid)
	return child, nil
}

// reparent reassigns every child of p to the init process and wakes init
// in case it is blocked in Wait, matching proc.c's reparent(p). Called
// with Kernel.waitLock held by the caller (Exit).
func (k *Kernel) reparent(ctx context.Context, p *Proc) {
	for i := range k.procs {
		c := &k.procs[i]
		if c == p {
			continue
		}
		if c.parent == p {
			c.parent = k.initproc
			if k.initproc != nil {
				k.obs.emitReparent(ctx, c.pid, k.initproc.pid)
			}
		}
	}
	if k.initproc != nil {
		k.wakeupLocked(ctx, k.initproc)
	}
}

// Exit ends p's life: closes its files, reparents its children to init,
// wakes its own parent (who may be sleeping in Wait), records its exit
// status, and moves it onto the zombie list. Exit never yields the CPU
// itself — the caller's ProcBody must return immediately afterward,
// which is what hands control back to the scheduler for the last time
// (nothing pushes a ZOMBIE slot back onto a ready queue), mirroring
// exit()'s final call into sched() without the need for a dedicated
// "never resumed again" channel rendezvous.
func (k *Kernel) Exit(ctx context.Context, p *Proc, status int) {
	ctx, span := k.obs.tracer.StartSpan(ctx, SpanExit)
	defer span.Finish()

	p.mu.Lock()
	for i, f := range p.ofile {
		if f != nil {
			f.close()
		}
		p.ofile[i] = nil
	}
	p.mu.Unlock()

	k.waitLock.Lock()
	k.reparent(ctx, p)
	parent := p.parent
	k.waitLock.Unlock()

	cpu := p.affCPU
	p.mu.Lock()
	p.xstate = status
	p.state = StateZombie
	p.mu.Unlock()

	k.ready[cpu].Remove(p.idx)
	k.zombie.Push(p.idx)
	k.obs.updateListLens(k.sleeping.Len(), k.zombie.Len())
	k.obs.emitExit(ctx, p.pid, status)

	if parent != nil {
		k.Wakeup(ctx, parent)
	}
}

// Wait blocks the calling parent process until one of its children
// becomes a ZOMBIE, then reaps it and returns its pid and exit status.
// Returns ErrNoChildren immediately if parent has no children at all,
// matching wait()'s "no point sleeping" fast path.
func (k *Kernel) Wait(ctx context.Context, parent *Proc) (int64, int, error) {
	ctx, span := k.obs.tracer.StartSpan(ctx, SpanWait)
	defer span.Finish()

	for {
		k.waitLock.Lock()
		haveChild := false
		for i := range k.procs {
			c := &k.procs[i]
			if c.parent != parent {
				continue
			}
			haveChild = true
			c.mu.Lock()
			if c.state == StateZombie {
				pid := c.pid
				xstate := c.xstate
				c.mu.Unlock()
				k.waitLock.Unlock()
				k.freeProc(c)
				return pid, xstate, nil
			}
			c.mu.Unlock()
		}
		if !haveChild {
			k.waitLock.Unlock()
			return 0, 0, ErrNoChildren
		}
		// Sleep releases waitLock only after acquiring parent's own
		// lock, per the lost-wakeup-free protocol (see Sleep).
		k.Sleep(ctx, parent, parent, &k.waitLock)
	}
}

// WaitStatusAddr is the syscall-boundary form of Wait: instead of handing
// the exit status back as a Go int, it copies it out via EitherCopyout,
// matching wait()'s "if out_status_addr != 0, copy xstate to user
// memory" step precisely (proc.c copies xstate out via copyout() before
// freeing the zombie slot). fromKernel selects the either_copyout(int
// user_dst, ...) branch: when true, the status lands in *kdst (a kernel
// buffer, the path a purely in-kernel caller would take); when false, it
// lands in the parent's simulated user memory at addr.
func (k *Kernel) WaitStatusAddr(ctx context.Context, parent *Proc, fromKernel bool, kdst *[]byte, addr uint64) (int64, error) {
	pid, xstate, err := k.Wait(ctx, parent)
	if err != nil {
		return -1, err
	}
	buf := []byte{byte(xstate), byte(xstate >> 8), byte(xstate >> 16), byte(xstate >> 24)}
	EitherCopyout(fromKernel, kdst, parent.mem, addr, buf)
	return pid, nil
}

// Kill marks pid as killed and, if it is currently SLEEPING, moves it to
// RUNNABLE so it can observe the kill flag and unwind. Returns 0 if pid
// was found (sleeping or not), -1 if no such process exists — the
// resolution recorded for this scheduler's Kill Open Question, which
// diverges from a variant of the original source that always returned
// -1 regardless of whether the pid was found.
func (k *Kernel) Kill(ctx context.Context, pid int64) int {
	ctx, span := k.obs.tracer.StartSpan(ctx, SpanKill)
	defer span.Finish()
	span.SetTag(TagPid, fmt.Sprintf("%d", pid))

	p := k.findByPID(pid)
	if p == nil {
		k.obs.emitKill(ctx, pid, false)
		return -1
	}

	p.mu.Lock()
	p.killed = true
	wasSleeping := p.state == StateSleeping
	var target int
	if wasSleeping {
		p.state = StateRunnable
		target = k.wakeupTargetCPU(p)
		p.affCPU = target
	}
	p.mu.Unlock()

	if wasSleeping {
		// The sleeper might not have finished installing itself on the
		// sleeping list yet (see Sleep); only move it to ready if Remove
		// actually unlinked it, so it never ends up on both lists. If
		// Remove found nothing, Sleep sees the RUNNABLE state after its
		// own Push and moves the process to its ready queue itself.
		if k.sleeping.Remove(p.idx) {
			k.ready[target].Push(p.idx)
			k.obs.updateReadyLen(target, k.ready[target].Len())
			k.obs.updateListLens(k.sleeping.Len(), k.zombie.Len())
		}
	}

	k.obs.emitKill(ctx, pid, true)
	return 0
}

// GrowProc grows (n > 0) or shrinks (n < 0) p's address space by |n|
// simulated pages, matching sys_growproc's contract.
func (k *Kernel) GrowProc(p *Proc, n int64) error {
	if n == 0 {
		return nil
	}
	if n > 0 {
		if err := p.pt.Grow(uint64(n), k.pages); err != nil {
			return err
		}
		p.sz += uint64(n)
		return nil
	}
	shrink := uint64(-n)
	p.pt.Shrink(shrink, k.pages)
	if shrink >= p.sz {
		p.sz = 0
	} else {
		p.sz -= shrink
	}
	return nil
}
