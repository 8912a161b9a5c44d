package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSetCPUMovesAffinityAndYields checks that SetCPU updates affCPU and
// that the calling process is observed running on the new CPU afterward.
func TestSetCPUMovesAffinityAndYields(t *testing.T) {
	k, _, stop := bootTestKernel(t, ModeStatic)
	defer stop()

	seen := make(chan int, 1)
	k.UserInit("mover", func(k *Kernel, p *Proc) {
		rc := k.SetCPU(context.Background(), p, 2)
		require.Equal(t, 2, rc)
		seen <- k.GetCPU(p)
		k.Exit(context.Background(), p, 0)
	})

	select {
	case cpu := <-seen:
		require.Equal(t, 2, cpu)
	case <-time.After(time.Second):
		t.Fatal("mover never resumed after SetCPU")
	}
}

// TestSetCPURejectsOutOfRange confirms an invalid target CPU is refused
// without touching the process's existing affinity.
func TestSetCPURejectsOutOfRange(t *testing.T) {
	k, _, stop := bootTestKernel(t, ModeStatic)
	defer stop()

	result := make(chan int, 1)
	k.UserInit("p", func(k *Kernel, p *Proc) {
		result <- k.SetCPU(context.Background(), p, NCPU+1)
		k.Exit(context.Background(), p, 0)
	})

	select {
	case rc := <-result:
		require.Equal(t, -1, rc)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

// TestCPUProcessCountReflectsReadyQueue exercises the approximate load
// signal directly: pushing a runnable slot onto ready[k] should bump
// CPUProcessCount(k) by one.
func TestCPUProcessCountReflectsReadyQueue(t *testing.T) {
	k := NewKernel(ModeStatic, nil)
	defer k.Close()

	before := k.CPUProcessCount(1)
	p, err := k.allocProc("solo", nil, nil)
	require.NoError(t, err)
	p.mu.Lock()
	p.state = StateRunnable
	p.affCPU = 1
	p.mu.Unlock()
	k.ready[1].Push(p.idx)

	require.EqualValues(t, before+1, k.CPUProcessCount(1))
	require.EqualValues(t, -1, k.CPUProcessCount(NCPU))
}
