package kernel

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability keys, grounded directly in zoobzio-pipz's backoff.go
// pattern of const blocks for metricz.Key/tracez.Key/tracez.Tag/hookz.Key.
const (
	MetricPIDNext     = metricz.Key("kernel.pid.next")
	MetricProcsUsed   = metricz.Key("kernel.procs.used")
	MetricZombieLen   = metricz.Key("kernel.zombie.len")
	MetricSleepingLen = metricz.Key("kernel.sleeping.len")
	MetricStealsTotal = metricz.Key("kernel.steals.total")

	SpanFork     = tracez.Key("kernel.fork")
	SpanExit     = tracez.Key("kernel.exit")
	SpanWait     = tracez.Key("kernel.wait")
	SpanSleep    = tracez.Key("kernel.sleep")
	SpanWakeup   = tracez.Key("kernel.wakeup")
	SpanKill     = tracez.Key("kernel.kill")
	SpanDispatch = tracez.Key("kernel.sched.dispatch")

	TagPid   = tracez.Tag("kernel.pid")
	TagCPU   = tracez.Tag("kernel.cpu")
	TagCount = tracez.Tag("kernel.count")

	EventFork     = hookz.Key("kernel.fork")
	EventExit     = hookz.Key("kernel.exit")
	EventReparent = hookz.Key("kernel.reparent")
	EventKill     = hookz.Key("kernel.kill")
)

// LifecycleEvent is emitted via hookz on fork/exit/reparent/kill so
// external observers (tests, cmd/mcoresim) can watch the process
// lifecycle without polling Snapshot, mirroring BackoffEvent's role for
// pipz's retry connector.
type LifecycleEvent struct {
	Op        string
	Pid       int64
	ParentPid int64
	CPU       int
	Found     bool
	Timestamp time.Time
}

// observability bundles every ambient concern the lifecycle and
// scheduler operations touch: structured logging (zerolog, the library
// backing joeycumines-go-utilpkg's logiface-zerolog), span tracing
// (tracez), counters/gauges (metricz), typed lifecycle hooks (hookz),
// and a mockable clock (clockz) for the timer-driven preemption path.
type observability struct {
	log     zerolog.Logger
	tracer  *tracez.Tracer
	metrics *metricz.Registry
	hooks   *hookz.Hooks[LifecycleEvent]
	clock   clockz.Clock

	readyGauges [NCPU]metricz.Key
}

func newObservability(clock clockz.Clock) *observability {
	if clock == nil {
		clock = clockz.RealClock
	}
	reg := metricz.New()
	reg.Gauge(MetricPIDNext)
	reg.Gauge(MetricProcsUsed)
	reg.Gauge(MetricZombieLen)
	reg.Gauge(MetricSleepingLen)
	reg.Counter(MetricStealsTotal)

	o := &observability{
		log:     zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}).With().Timestamp().Logger(),
		tracer:  tracez.New(),
		metrics: reg,
		hooks:   hookz.New[LifecycleEvent](),
		clock:   clock,
	}
	for i := 0; i < NCPU; i++ {
		key := metricz.Key(fmt.Sprintf("kernel.ready.%d.len", i))
		o.readyGauges[i] = key
		reg.Gauge(key)
	}
	return o
}

func (o *observability) close() {
	o.tracer.Close()
	o.hooks.Close()
}

func (o *observability) updateReadyLen(cpu int, n int64) {
	o.metrics.Gauge(o.readyGauges[cpu]).Set(float64(n))
}

func (o *observability) updatePIDCounter(pid int64) {
	o.metrics.Gauge(MetricPIDNext).Set(float64(pid))
}

func (o *observability) updateProcsUsed(n int64) {
	o.metrics.Gauge(MetricProcsUsed).Set(float64(n))
}

func (o *observability) updateListLens(sleeping, zombie int64) {
	o.metrics.Gauge(MetricSleepingLen).Set(float64(sleeping))
	o.metrics.Gauge(MetricZombieLen).Set(float64(zombie))
}

func (o *observability) onSteal(thief, victim int) {
	o.metrics.Counter(MetricStealsTotal).Inc()
	o.log.Debug().Int("thief", thief).Int("victim", victim).Msg("steal")
}

func (o *observability) onDispatch(ctx context.Context, cpu int, p *Proc) (context.Context, *tracez.Span) {
	ctx, span := o.tracer.StartSpan(ctx, SpanDispatch)
	span.SetTag(TagCPU, fmt.Sprintf("%d", cpu))
	span.SetTag(TagPid, fmt.Sprintf("%d", p.pid))
	o.log.Debug().Int("cpu", cpu).Int64("pid", p.pid).Str("name", p.name).Msg("dispatch")
	return ctx, span
}

func (o *observability) emitFork(ctx context.Context, parent, child int64) {
	_ = o.hooks.Emit(ctx, EventFork, LifecycleEvent{Op: "fork", Pid: child, ParentPid: parent, Timestamp: o.clock.Now()})
	o.log.Info().Int64("parent", parent).Int64("child", child).Msg("fork")
}

func (o *observability) emitExit(ctx context.Context, pid int64, xstate int) {
	_ = o.hooks.Emit(ctx, EventExit, LifecycleEvent{Op: "exit", Pid: pid, Timestamp: o.clock.Now()})
	o.log.Info().Int64("pid", pid).Int("xstate", xstate).Msg("exit")
}

func (o *observability) emitReparent(ctx context.Context, child, newParent int64) {
	_ = o.hooks.Emit(ctx, EventReparent, LifecycleEvent{Op: "reparent", Pid: child, ParentPid: newParent, Timestamp: o.clock.Now()})
	o.log.Debug().Int64("child", child).Int64("new_parent", newParent).Msg("reparent")
}

func (o *observability) emitKill(ctx context.Context, pid int64, found bool) {
	_ = o.hooks.Emit(ctx, EventKill, LifecycleEvent{Op: "kill", Pid: pid, Found: found, Timestamp: o.clock.Now()})
	o.log.Info().Int64("pid", pid).Bool("found", found).Msg("kill")
}
