package kernel

import (
	"context"
	"sync"
)

// Sleep implements the lost-wakeup-free sleep/wakeup protocol: callerLock
// stays held across both the state transition (under p.mu) and the
// ready -> sleeping list transfer, and is only released once p is fully
// installed on the sleeping list. A waker that changes the condition
// under callerLock and only then calls Wakeup(chanKey) therefore either
// runs before the caller decided to sleep (and the caller sees the
// condition) or after p is parked on the sleeping list (and finds it
// there) — there is no window where a wakeup can be missed between the
// caller deciding to sleep and p actually going on the sleeping list.
// Matches proc.c's sleep(chan, lk), which releases lk only once the
// scheduler has fully taken over the sleeping process; this simulation
// has no such handoff, so callerLock has to bridge the gap itself.
func (k *Kernel) Sleep(ctx context.Context, p *Proc, chanKey any, callerLock sync.Locker) {
	ctx, span := k.obs.tracer.StartSpan(ctx, SpanSleep)
	defer span.Finish()

	p.mu.Lock()
	cpu := p.affCPU
	p.waitChan = chanKey
	p.state = StateSleeping
	p.mu.Unlock()

	k.ready[cpu].Remove(p.idx)
	k.sleeping.Push(p.idx)
	// A Kill that ran between the state change and the Push found nothing
	// to unlink and left p RUNNABLE; move p on to its ready queue here.
	p.mu.Lock()
	killedEarly := p.state != StateSleeping
	target := p.affCPU
	p.mu.Unlock()
	if killedEarly && k.sleeping.Remove(p.idx) {
		k.ready[target].Push(p.idx)
	}
	k.obs.updateListLens(k.sleeping.Len(), k.zombie.Len())
	k.obs.log.Debug().Int64("pid", p.pid).Msg("sleep")

	callerLock.Unlock()

	p.yieldToScheduler()
	_ = ctx
}

// Wakeup moves every process sleeping on chanKey to RUNNABLE and back
// onto a ready queue, acquiring Kernel.waitLock itself. Use wakeupLocked
// from code that already holds waitLock (exit/reparent).
func (k *Kernel) Wakeup(ctx context.Context, chanKey any) {
	k.waitLock.Lock()
	defer k.waitLock.Unlock()
	k.wakeupLocked(ctx, chanKey)
}

func (k *Kernel) wakeupLocked(ctx context.Context, chanKey any) {
	ctx, span := k.obs.tracer.StartSpan(ctx, SpanWakeup)
	defer span.Finish()

	for _, idx := range k.sleeping.Snapshot() {
		p := &k.procs[idx]
		p.mu.Lock()
		if p.state != StateSleeping || p.waitChan != chanKey {
			p.mu.Unlock()
			continue
		}
		p.state = StateRunnable
		p.waitChan = nil
		target := k.wakeupTargetCPU(p)
		p.affCPU = target
		p.mu.Unlock()

		if !k.sleeping.Remove(idx) {
			// Another waker already claimed this slot between Snapshot
			// and Remove; its state mutation above is then harmless
			// since the slot no longer belongs to the sleeping list.
			continue
		}
		k.ready[target].Push(idx)
		k.obs.updateReadyLen(target, k.ready[target].Len())
		k.obs.updateListLens(k.sleeping.Len(), k.zombie.Len())
	}
	_ = ctx
}

// wakeupTargetCPU resolves the wakeup-affinity Open Question: in static
// mode a woken sleeper always returns to the CPU it was affiliated with
// before sleeping. In balanced mode it keeps that CPU unless that CPU's
// ready queue has grown past twice the mean ready-queue length across
// all CPUs, in which case it is reassigned via leastLoadedCPU — this
// documented alternative avoids recomputing on every single wakeup
// (which the design notes flag as a source of oscillation under bursty
// wakeup patterns) while still correcting clear imbalance.
func (k *Kernel) wakeupTargetCPU(p *Proc) int {
	if k.mode == ModeStatic {
		return p.affCPU
	}
	var total int64
	for i := 0; i < NCPU; i++ {
		total += k.ready[i].Len()
	}
	mean := total / int64(NCPU)
	if k.ready[p.affCPU].Len() > 2*mean {
		return k.leastLoadedCPU()
	}
	return p.affCPU
}
