package kernel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcListPushPopOrder(t *testing.T) {
	var table [NPROC]Proc
	for i := range table {
		table[i].idx = i
		table[i].next = -1
	}
	l := newProcList(&table)

	l.Push(0)
	l.Push(1)
	l.Push(2)
	require.EqualValues(t, 3, l.Len())

	got := l.Snapshot()
	require.Equal(t, []int{0, 1, 2}, got)

	idx, ok := l.Pop()
	require.True(t, ok)
	require.Equal(t, 0, idx)
	require.EqualValues(t, 2, l.Len())
}

func TestProcListRemoveMiddleAndEnds(t *testing.T) {
	var table [NPROC]Proc
	for i := range table {
		table[i].idx = i
		table[i].next = -1
	}
	l := newProcList(&table)
	for _, i := range []int{0, 1, 2, 3, 4} {
		l.Push(i)
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, l.Snapshot())

	require.True(t, l.Remove(2))
	require.Equal(t, []int{0, 1, 3, 4}, l.Snapshot())

	require.True(t, l.Remove(0))
	require.Equal(t, []int{1, 3, 4}, l.Snapshot())

	require.True(t, l.Remove(4))
	require.Equal(t, []int{1, 3}, l.Snapshot())

	require.False(t, l.Remove(99))
	require.EqualValues(t, 2, l.Len())
}

// TestProcListConcurrentPushPop exercises the hand-over-hand locking
// under concurrent pressure: every pushed index must be popped exactly
// once, and the list must end up empty with a zero length counter.
func TestProcListConcurrentPushPop(t *testing.T) {
	var table [NPROC]Proc
	for i := range table {
		table[i].idx = i
		table[i].next = -1
	}
	l := newProcList(&table)

	var wg sync.WaitGroup
	for i := 0; i < NPROC; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			l.Push(idx)
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, NPROC, l.Len())

	seen := make([]bool, NPROC)
	var mu sync.Mutex
	wg = sync.WaitGroup{}
	for i := 0; i < NPROC; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, ok := l.Pop()
			require.True(t, ok)
			mu.Lock()
			seen[idx] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.EqualValues(t, 0, l.Len())
	for i, s := range seen {
		require.Truef(t, s, "index %d never popped", i)
	}
}
