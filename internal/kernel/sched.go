package kernel

import (
	"context"
	"time"
)

// RunCPU is the per-CPU scheduler loop: pop a RUNNABLE process off this
// CPU's own ready queue, or steal one from another CPU's queue if empty,
// dispatch it (switch(&scheduler, &p->context) via resumeAndWait), and
// repeat — proc.c's scheduler(), minus the RISC-V intr_on()/wfi detail
// and plus the steal fallback this scheduler's work-stealing variant
// adds. Run one of these per simulated core; cancel ctx to stop it.
func (k *Kernel) RunCPU(ctx context.Context, cpuID int) {
	cpu := k.cpus[cpuID]
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		idx, ok := k.ready[cpuID].Pop()
		if ok {
			k.obs.updateReadyLen(cpuID, k.ready[cpuID].Len())
		} else {
			idx, ok = k.steal(cpuID)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-k.clock.After(time.Millisecond):
			}
			continue
		}

		p := &k.procs[idx]
		p.mu.Lock()
		p.state = StateRunning
		p.affCPU = cpuID
		p.mu.Unlock()

		cpu.current.Store(p.pid)
		_, span := k.obs.onDispatch(ctx, cpuID, p)
		p.resumeAndWait()
		span.Finish()
		cpu.current.Store(0)
	}
}

// ShouldPreempt reports, and clears, whether cpuID's preemption clock
// has fired since the last check. A process body polls this between
// units of work and calls Yield if true, simulating a timer-interrupt
// driven preemption without an actual trap handler.
func (k *Kernel) ShouldPreempt(cpuID int) bool {
	return k.cpus[cpuID].preempt.Swap(false)
}

// RunPreemptionClock ticks every quantum (driven by the kernel's clockz
// clock, real or fake) and raises cpuID's preemption flag, the
// simulation's analog of the periodic timer interrupt that would
// otherwise force a trap into the scheduler. Run at most one of these
// per CPU alongside its RunCPU loop.
func (k *Kernel) RunPreemptionClock(ctx context.Context, cpuID int, quantum time.Duration) {
	cpu := k.cpus[cpuID]
	for {
		select {
		case <-ctx.Done():
			return
		case <-k.clock.After(quantum):
			cpu.preempt.Store(true)
		}
	}
}

// Yield gives up the CPU voluntarily while remaining RUNNABLE, pushing p
// back onto its own CPU's ready queue before handing control back to the
// scheduler — proc.c's yield(), which just sets RUNNABLE and calls
// sched().
func (k *Kernel) Yield(ctx context.Context, p *Proc) {
	_ = ctx
	cpu := p.affCPU
	p.mu.Lock()
	p.state = StateRunnable
	p.mu.Unlock()

	k.ready[cpu].Push(p.idx)
	k.obs.updateReadyLen(cpu, k.ready[cpu].Len())
	p.yieldToScheduler()
}
