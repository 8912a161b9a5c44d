// Command mcoresim boots a small simulated multi-core kernel, forks a
// handful of worker processes across its CPUs, lets them run to
// completion, and reaps them — a userspace stand-in for biscuit's
// main() (phys_init, cpus_start, exec, "kernel done" loop), adapted to
// drive the process-lifecycle-and-scheduler core instead of a real
// hardware boot sequence.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/biscuit-os/mcore/internal/kernel"
)

func main() {
	k := kernel.NewKernel(kernel.ModeBalanced, nil)
	defer k.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for c := 0; c < kernel.NCPU; c++ {
		go k.RunCPU(ctx, c)
	}

	init := k.UserInit("init", func(k *kernel.Kernel, p *kernel.Proc) {
		fmt.Println("init------>running")
		for i := 0; i < 8; i++ {
			name := fmt.Sprintf("worker.%d", i)
			child, err := k.Fork(context.Background(), p, name, workerBody(i))
			if err != nil {
				fmt.Println("fork failed:", err)
				continue
			}
			fmt.Printf("fork------>%s pid=%d\n", name, child.Pid())
		}
		for i := 0; i < 8; i++ {
			pid, status, err := k.Wait(context.Background(), p)
			if err != nil {
				break
			}
			fmt.Printf("wait------>reaped pid=%d status=%d\n", pid, status)
		}
		k.Exit(context.Background(), p, 0)
	})
	_ = init

	time.Sleep(200 * time.Millisecond)
	for _, info := range k.Snapshot() {
		fmt.Printf("snapshot------>pid=%d name=%s state=%s cpu=%d\n", info.Pid, info.Name, info.State, info.CPU)
	}
}

// workerBody returns a ProcBody that does a little simulated work,
// yielding between units of it, then exits with status n%2. Every third
// worker pins itself to a different CPU mid-run via set_cpu, the way a
// real process might after noticing its current core is overloaded.
func workerBody(n int) kernel.ProcBody {
	return func(k *kernel.Kernel, p *kernel.Proc) {
		if n%3 == 0 {
			target := (k.GetCPU(p) + 1) % kernel.NCPU
			fmt.Printf("setcpu------>pid=%d %d->%d (queue len %d)\n",
				p.Pid(), k.GetCPU(p), target, k.CPUProcessCount(target))
			k.SetCPU(context.Background(), p, target)
		}
		for i := 0; i < 3; i++ {
			k.Yield(context.Background(), p)
		}
		k.Exit(context.Background(), p, n%2)
	}
}
