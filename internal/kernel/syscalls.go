package kernel

import "context"

// SetCPU pins p to cpu and immediately yields, so the caller resumes on
// its new affiliated CPU rather than finishing out its quantum on the
// old one — spec.md section 6's set_cpu(k), folded into this module's
// syscall surface the same way sys_growproc sits next to growproc:
// a thin syscall wrapper around a lifecycle primitive.
func (k *Kernel) SetCPU(ctx context.Context, p *Proc, cpu int) int {
	if cpu < 0 || cpu >= NCPU {
		return -1
	}
	p.mu.Lock()
	p.affCPU = cpu
	p.mu.Unlock()
	k.Yield(ctx, p)
	return cpu
}

// GetCPU reports p's current affiliated CPU, spec.md's get_cpu().
func (k *Kernel) GetCPU(p *Proc) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.affCPU
}

// CPUProcessCount reports the approximate length of ready[cpu], the
// same CAS-maintained counter the balancer (component H) reads —
// spec.md's cpu_process_count(k), an approximate load signal by design,
// never an exact count.
func (k *Kernel) CPUProcessCount(cpu int) int64 {
	if cpu < 0 || cpu >= NCPU {
		return -1
	}
	return k.ready[cpu].Len()
}
