package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func bootTestKernel(t *testing.T, mode AffinityMode) (*Kernel, context.Context, func()) {
	t.Helper()
	k := NewKernel(mode, nil)
	ctx, cancel := context.WithCancel(context.Background())
	for c := 0; c < NCPU; c++ {
		go k.RunCPU(ctx, c)
	}
	stop := func() {
		cancel()
		k.Close()
	}
	return k, ctx, stop
}

// waitFor polls cond every 2ms until it is true or the deadline passes,
// failing the test on timeout. Used instead of a fixed sleep so tests
// don't race the scheduler goroutines.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// TestForkExitWait exercises the simplest end-to-end scenario: init
// forks one child, the child exits, init reaps it via Wait.
func TestForkExitWait(t *testing.T) {
	k, _, stop := bootTestKernel(t, ModeStatic)
	defer stop()

	type result struct {
		pid    int64
		status int
	}
	results := make(chan result, 1)

	k.UserInit("init", func(k *Kernel, p *Proc) {
		child, err := k.Fork(context.Background(), p, "child", func(k *Kernel, p *Proc) {
			k.Exit(context.Background(), p, 7)
		})
		require.NoError(t, err)

		pid, status, err := k.Wait(context.Background(), p)
		require.NoError(t, err)
		results <- result{pid, status}
		_ = child
	})

	select {
	case r := <-results:
		require.Equal(t, 7, r.status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fork/exit/wait cycle")
	}

	waitFor(t, func() bool { return len(k.Snapshot()) == 1 }) // only init remains, child freed
}

// TestWaitNoChildren checks the fast path: a process with no children at
// all gets ErrNoChildren immediately rather than sleeping forever.
func TestWaitNoChildren(t *testing.T) {
	k, _, stop := bootTestKernel(t, ModeStatic)
	defer stop()

	errs := make(chan error, 1)
	k.UserInit("lonely", func(k *Kernel, p *Proc) {
		_, _, err := k.Wait(context.Background(), p)
		errs <- err
		k.Exit(context.Background(), p, 0)
	})

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrNoChildren)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

// TestReparentToInit verifies that a process whose parent exits first is
// reassigned to init and eventually reaped by it.
func TestReparentToInit(t *testing.T) {
	k, _, stop := bootTestKernel(t, ModeStatic)
	defer stop()

	grandchildDone := make(chan struct{})
	initReaped := make(chan int64, 1)

	init := k.UserInit("init", func(k *Kernel, p *Proc) {
		for {
			pid, _, err := k.Wait(context.Background(), p)
			if err == nil {
				initReaped <- pid
				return
			}
			// No children yet (grandchild hasn't been reparented to init
			// at this point); back off briefly and retry rather than
			// busy-spinning the CPU this process occupies.
			time.Sleep(2 * time.Millisecond)
		}
	})
	_ = init

	k.UserInit("parent", func(k *Kernel, p *Proc) {
		gc, err := k.Fork(context.Background(), p, "grandchild", func(k *Kernel, p *Proc) {
			<-grandchildDone
			k.Exit(context.Background(), p, 0)
		})
		require.NoError(t, err)
		k.Exit(context.Background(), p, 0)
		_ = gc
	})

	close(grandchildDone)

	select {
	case <-initReaped:
	case <-time.After(2 * time.Second):
		t.Fatal("init never reaped the orphaned grandchild")
	}
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// TestKillSleeping verifies Kill wakes a sleeping process and sets its
// killed flag, and that Kill's return value follows the documented
// resolution: 0 for a found pid, -1 otherwise.
func TestKillSleeping(t *testing.T) {
	k, _, stop := bootTestKernel(t, ModeStatic)
	defer stop()

	woke := make(chan struct{})
	var target *Proc
	ready := make(chan struct{})

	k.UserInit("sleeper", func(k *Kernel, p *Proc) {
		target = p
		close(ready)
		k.Sleep(context.Background(), p, "never-posted", noopLocker{})
		close(woke)
		k.Exit(context.Background(), p, 0)
	})

	<-ready
	waitFor(t, func() bool { return target.State() == StateSleeping })

	require.Equal(t, -1, k.Kill(context.Background(), 999999))

	rc := k.Kill(context.Background(), target.Pid())
	require.Equal(t, 0, rc)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("killed process never woke")
	}
	require.True(t, target.Killed())
}

// TestPIDsAreUniqueAndMonotonic forks a batch of children from init one
// after another and checks every assigned pid is distinct and strictly
// greater than the pid assigned before it.
func TestPIDsAreUniqueAndMonotonic(t *testing.T) {
	k, _, stop := bootTestKernel(t, ModeBalanced)
	defer stop()

	const n = 16
	pids := make(chan int64, n)

	k.UserInit("init", func(k *Kernel, p *Proc) {
		for i := 0; i < n; i++ {
			child, err := k.Fork(context.Background(), p, "child", func(k *Kernel, p *Proc) {
				k.Exit(context.Background(), p, 0)
			})
			require.NoError(t, err)
			pids <- child.Pid()
		}
		for i := 0; i < n; i++ {
			_, _, err := k.Wait(context.Background(), p)
			require.NoError(t, err)
		}
		k.Exit(context.Background(), p, 0)
	})

	seen := map[int64]bool{}
	var last int64
	for i := 0; i < n; i++ {
		select {
		case pid := <-pids:
			require.False(t, seen[pid], "duplicate pid %d", pid)
			require.Greater(t, pid, last, "pid %d not above previous pid %d", pid, last)
			seen[pid] = true
			last = pid
		case <-time.After(2 * time.Second):
			t.Fatal("timed out collecting pids")
		}
	}
}

// TestGrowProcTracksPageAllocator exercises growproc against the
// simulated page allocator and confirms pages are returned on shrink.
func TestGrowProcTracksPageAllocator(t *testing.T) {
	k := NewKernel(ModeStatic, nil)
	defer k.Close()

	p, err := k.allocProc("solo", nil, nil)
	require.NoError(t, err)

	free0 := k.pages.Free()
	require.NoError(t, k.GrowProc(p, 4))
	require.Equal(t, free0-4, k.pages.Free())
	require.EqualValues(t, 4, p.sz)

	require.NoError(t, k.GrowProc(p, -2))
	require.Equal(t, free0-2, k.pages.Free())
	require.EqualValues(t, 2, p.sz)
}

// TestWaitStatusAddrCopiesToUserMemory exercises the syscall-boundary
// form of Wait: the exit status should land in the parent's simulated
// user memory at the given address rather than only being returned as a
// Go value.
func TestWaitStatusAddrCopiesToUserMemory(t *testing.T) {
	k, _, stop := bootTestKernel(t, ModeStatic)
	defer stop()

	const statusAddr = 0x2000
	results := make(chan int64, 1)

	k.UserInit("init", func(k *Kernel, p *Proc) {
		_, err := k.Fork(context.Background(), p, "child", func(k *Kernel, p *Proc) {
			k.Exit(context.Background(), p, 99)
		})
		require.NoError(t, err)

		pid, err := k.WaitStatusAddr(context.Background(), p, false, nil, statusAddr)
		require.NoError(t, err)
		results <- pid
	})

	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for WaitStatusAddr")
	}

	init := k.initproc
	buf := init.mem.CopyFromUser(statusAddr, 4)
	got := int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24
	require.EqualValues(t, 99, got)
}

// TestWaitStatusAddrKernelDst exercises the fromKernel branch of
// either_copyout: the exit status lands in a kernel-side buffer instead
// of the parent's simulated user memory.
func TestWaitStatusAddrKernelDst(t *testing.T) {
	k, _, stop := bootTestKernel(t, ModeStatic)
	defer stop()

	var kdst []byte
	results := make(chan int64, 1)

	k.UserInit("init", func(k *Kernel, p *Proc) {
		_, err := k.Fork(context.Background(), p, "child", func(k *Kernel, p *Proc) {
			k.Exit(context.Background(), p, 5)
		})
		require.NoError(t, err)

		pid, err := k.WaitStatusAddr(context.Background(), p, true, &kdst, 0)
		require.NoError(t, err)
		results <- pid
	})

	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for WaitStatusAddr")
	}

	got := int32(kdst[0]) | int32(kdst[1])<<8 | int32(kdst[2])<<16 | int32(kdst[3])<<24
	require.EqualValues(t, 5, got)
}
