package kernel

import "sync"

// procList is a concurrent intrusive singly-linked list threaded through
// every Proc's next field in the shared table, directly grounded in
// xv6-riscv's proc.c insert()/remove_node(): walking the chain acquires
// each node's own walkMu one at a time and only ever releases the
// previous node's lock once the next one is held, so a concurrent walker
// never sees a node disappear out from under it. This is distinct from a
// Proc's own mu (its per-record state lock): walkMu only ever guards next
// and list membership, never state/chan/killed/xstate.
//
// Lock order for this type, system-wide: a list's headMu, then each
// node's walkMu in chain order, then (only once a node is identified and
// already removed from the list) its mu. A node's mu is never held while
// acquiring a walkMu.
type procList struct {
	headMu sync.Mutex
	head   int // index into procs, or -1 if empty
	procs  *[NPROC]Proc
	length casCounter
}

func newProcList(procs *[NPROC]Proc) *procList {
	return &procList{head: -1, procs: procs}
}

// Len reports the approximate current length via the CAS counter kept in
// step with Push/Pop/Remove; the balancer (component H) reads this
// without taking headMu at all, trading exactness for never blocking on
// list traffic, exactly the approximation spec'd for least_loaded_cpu.
func (l *procList) Len() int64 {
	return l.length.Load()
}

// Push appends idx at the tail of the list, walking hand-over-hand from
// head the same way Remove does: each step acquires the next node's
// walkMu before releasing the current one's, so a concurrent walker
// never sees a gap. Every list here is a FIFO queue (ready/sleeping/
// zombie/unused) with Pop taking from the head, so the tail is where
// new entries belong.
func (l *procList) Push(idx int) {
	node := &l.procs[idx]

	l.headMu.Lock()
	if l.head == -1 {
		node.walkMu.Lock()
		node.next = -1
		l.head = idx
		node.walkMu.Unlock()
		l.headMu.Unlock()
		l.length.Add(1)
		return
	}

	cur := l.head
	l.procs[cur].walkMu.Lock()
	l.headMu.Unlock()

	for l.procs[cur].next != -1 {
		next := l.procs[cur].next
		l.procs[next].walkMu.Lock()
		l.procs[cur].walkMu.Unlock()
		cur = next
	}

	node.walkMu.Lock()
	node.next = -1
	l.procs[cur].next = idx
	node.walkMu.Unlock()
	l.procs[cur].walkMu.Unlock()
	l.length.Add(1)
}

// Pop removes and returns the head of the list.
func (l *procList) Pop() (int, bool) {
	l.headMu.Lock()
	idx := l.head
	if idx == -1 {
		l.headMu.Unlock()
		return -1, false
	}
	p := &l.procs[idx]
	p.walkMu.Lock()
	l.head = p.next
	p.next = -1
	p.walkMu.Unlock()
	l.headMu.Unlock()
	l.length.Add(-1)
	return idx, true
}

// Remove walks the list hand-over-hand looking for idx and splices it
// out wherever it is found, mirroring remove_node(head, pid) in proc.c
// (which walks by pid; here the caller already knows the slot index).
func (l *procList) Remove(idx int) bool {
	l.headMu.Lock()
	if l.head == -1 {
		l.headMu.Unlock()
		return false
	}
	if l.head == idx {
		p := &l.procs[idx]
		p.walkMu.Lock()
		l.head = p.next
		p.next = -1
		p.walkMu.Unlock()
		l.headMu.Unlock()
		l.length.Add(-1)
		return true
	}

	prev := l.head
	l.procs[prev].walkMu.Lock()
	l.headMu.Unlock()

	for {
		cur := l.procs[prev].next
		if cur == -1 {
			l.procs[prev].walkMu.Unlock()
			return false
		}
		l.procs[cur].walkMu.Lock()
		if cur == idx {
			l.procs[prev].next = l.procs[cur].next
			l.procs[cur].next = -1
			l.procs[cur].walkMu.Unlock()
			l.procs[prev].walkMu.Unlock()
			l.length.Add(-1)
			return true
		}
		l.procs[prev].walkMu.Unlock()
		prev = cur
		// l.procs[cur].walkMu stays held; cur becomes the new prev.
	}
}

// Snapshot returns the slot indices currently on the list, head first.
// Used by tests and by wakeupLocked to collect candidate sleepers. It
// holds headMu for the whole walk rather than walking hand-over-hand, so
// Push/Pop/Remove on this list wait until the walk finishes.
func (l *procList) Snapshot() []int {
	l.headMu.Lock()
	defer l.headMu.Unlock()
	var out []int
	cur := l.head
	for cur != -1 {
		out = append(out, cur)
		l.procs[cur].walkMu.Lock()
		nxt := l.procs[cur].next
		l.procs[cur].walkMu.Unlock()
		cur = nxt
	}
	return out
}
