package kernel

// leastLoadedCPU scans each CPU's ready-queue length (maintained via the
// CAS counter inside procList) and returns the index of the shortest
// one, reserving a slot there by CASing that counter from the observed
// length to length+1 before returning. A failed CAS means another
// caller just changed that same queue's length, so the scan restarts
// rather than handing out a stale reservation. The reservation races
// with the eventual real Push's own counter bump, so a heavily-balanced
// queue's counter can run a bit ahead of its true length — the same
// approximate signal the pack's ParallelWorkStealer.GetLoadStats ranks
// queues by before a submit: good enough to avoid gross imbalance, not
// a global scheduling guarantee.
func (k *Kernel) leastLoadedCPU() int {
	for {
		best := 0
		bestLen := k.ready[0].Len()
		for i := 1; i < NCPU; i++ {
			if l := k.ready[i].Len(); l < bestLen {
				best, bestLen = i, l
			}
		}
		if k.ready[best].length.CompareAndSwap(bestLen, bestLen+1) {
			return best
		}
	}
}

// steal pops a runnable process from another CPU's ready queue when
// cpuID's own queue just came up empty, round-robining the starting
// victim via a CAS-incremented cursor the way ParallelWorkStealer.GetJob
// starts its scan from atomic.AddUint64(&stealIndex, 1) rather than
// always from CPU 0 (which would starve higher-numbered queues).
func (k *Kernel) steal(cpuID int) (int, bool) {
	start := int(k.stealCursor.Add(1)) % NCPU
	for i := 0; i < NCPU; i++ {
		victim := (start + i) % NCPU
		if victim == cpuID {
			continue
		}
		if idx, ok := k.ready[victim].Pop(); ok {
			k.obs.onSteal(cpuID, victim)
			k.obs.updateReadyLen(victim, k.ready[victim].Len())
			return idx, true
		}
	}
	return -1, false
}
