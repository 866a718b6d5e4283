package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// runtime tracks one Run invocation: the set of live actors (supplied plus
// transitively spawned), the quiescence WaitGroup, and the external context
// whose cancellation is propagated to every actor as an interrupt.
type runtime struct {
	// ctx is the external context governing this run.
	ctx context.Context

	// mu protects live.
	mu sync.Mutex

	// live holds every actor that has been spawned into this runtime
	// and has not yet terminated, keyed by actor ID.
	live map[string]Ref

	// interrupted is set once the external context has been cancelled;
	// actors spawned afterwards are interrupted immediately.
	interrupted atomic.Bool

	// wg counts running actor tasks. Run returns when it drains,
	// which is exactly the quiescence condition.
	wg sync.WaitGroup
}

// newRuntime creates a runtime governed by ctx.
func newRuntime(ctx context.Context) *runtime {
	return &runtime{
		ctx:  ctx,
		live: make(map[string]Ref),
	}
}

// register adds a freshly spawned actor to the live set. If the run has
// already been interrupted, the newcomer is interrupted right away so that
// quiescence stays reachable.
func (rt *runtime) register(a Ref) {
	rt.mu.Lock()
	rt.live[a.ID()] = a
	rt.mu.Unlock()

	if rt.interrupted.Load() {
		a.deliver(PanicSignal{Err: ErrInterrupted})
	}
}

// unregister removes a terminated actor from the live set.
func (rt *runtime) unregister(a Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	delete(rt.live, a.ID())
}

// interruptAll delivers an interrupt PanicSignal to every live actor. Tasks
// observe it at their next closure boundary; handlers see a uniform
// PanicSignal wrapping ErrInterrupted.
func (rt *runtime) interruptAll() {
	rt.interrupted.Store(true)

	rt.mu.Lock()
	targets := make([]Ref, 0, len(rt.live))
	for _, a := range rt.live {
		targets = append(targets, a)
	}
	rt.mu.Unlock()

	log.InfoS(rt.ctx, "Run interrupted, signalling actors",
		"num_actors", len(targets))

	for _, a := range targets {
		a.deliver(PanicSignal{Err: ErrInterrupted})
	}
}

// actorTasks tracks the goroutine IDs of running actor tasks across all
// runtimes in the process. Run consults it to reject re-entrant calls from
// inside an actor task.
var actorTasks sync.Map

// markActorTask records gid as an actor task goroutine.
func markActorTask(gid int64) {
	actorTasks.Store(gid, struct{}{})
}

// unmarkActorTask removes gid from the actor task registry.
func unmarkActorTask(gid int64) {
	actorTasks.Delete(gid)
}

// insideActorTask reports whether the calling goroutine is an actor task.
func insideActorTask() bool {
	_, ok := actorTasks.Load(goid.Get())
	return ok
}

// Run spawns every actor in actors, invokes startup with a StartContext
// bound to the calling goroutine, then blocks until every actor (supplied
// plus transitively spawned) reaches StateShutdown. Quiescence is the only
// termination condition; panics inside actors never make Run fail.
//
// Cancelling ctx interrupts the run: every live actor observes a
// PanicSignal wrapping ErrInterrupted at its next closure boundary, and Run
// still waits for the resulting wind-down to reach quiescence before
// returning ctx's error.
//
// Run validates its arguments: the actor list must be non-nil and free of
// nil entries, every actor needs a behavior factory, and the caller must
// not itself be an actor task. Violations return an error wrapping
// ErrIllegalActorState before anything is spawned. A nil startup is
// treated as an empty startup closure.
func Run(ctx context.Context, actors []Ref, startup func(*StartContext)) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if insideActorTask() {
		return fmt.Errorf("%w: Run called from inside an actor task",
			ErrIllegalActorState)
	}
	if actors == nil {
		return fmt.Errorf("%w: Run called with a nil actor list",
			ErrIllegalActorState)
	}
	for _, a := range actors {
		if a == nil {
			return fmt.Errorf("%w: Run called with a nil actor",
				ErrIllegalActorState)
		}
		if !a.hasFactory() {
			return fmt.Errorf("%w: actor %q has no behavior "+
				"factory", ErrIllegalActorState, a.Name())
		}
	}

	rt := newRuntime(ctx)

	log.InfoS(ctx, "Run starting", "num_actors", len(actors))

	for _, a := range actors {
		a.spawnWith(rt, nil)
	}

	// Propagate external cancellation to the actor fleet. The watcher
	// exits as soon as quiescence is reached so no goroutine outlives
	// Run.
	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)

		select {
		case <-ctx.Done():
			rt.interruptAll()

		case <-stopWatch:
		}
	}()
	defer func() {
		close(stopWatch)
		<-watchDone
	}()

	// The StartContext expires the moment startup returns, even if
	// startup panics out of Run.
	sctx := newStartContext(rt)
	func() {
		defer sctx.invalidate()

		if startup != nil {
			startup(sctx)
		}
	}()

	rt.wg.Wait()

	log.InfoS(ctx, "Run reached quiescence")

	return ctx.Err()
}

// UncaughtHandler receives failures that have nowhere else to go: a panic
// in an actor without a signal handler, or a panic thrown by a signal
// handler itself. It may be invoked concurrently from multiple actor tasks.
type UncaughtHandler func(actor Ref, err error)

var (
	// uncaughtMu guards uncaughtHandler.
	uncaughtMu sync.Mutex

	// uncaughtHandler is the process-wide uncaught failure sink.
	uncaughtHandler UncaughtHandler
)

// SetUncaughtHandler installs the process-wide uncaught failure handler.
// The hook is write-once: installing a second handler panics with
// ErrIllegalActorState.
func SetUncaughtHandler(handler UncaughtHandler) {
	if handler == nil {
		panic(fmt.Errorf("%w: nil uncaught handler",
			ErrIllegalActorState))
	}

	uncaughtMu.Lock()
	defer uncaughtMu.Unlock()

	if uncaughtHandler != nil {
		panic(fmt.Errorf("%w: uncaught handler already installed",
			ErrIllegalActorState))
	}

	uncaughtHandler = handler
}

// reportUncaught routes err to the process-wide uncaught handler. Without
// an installed handler the failure is logged; it never propagates into
// unrelated actors. A panic inside the uncaught handler itself is logged
// and swallowed, terminating the escalation chain.
func reportUncaught(a Ref, err error) {
	uncaughtMu.Lock()
	handler := uncaughtHandler
	uncaughtMu.Unlock()

	if handler == nil {
		log.ErrorS(context.Background(), "Uncaught actor failure",
			err,
			"actor", a.Name(),
			"actor_id", a.ID())

		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.ErrorS(context.Background(), "Uncaught handler "+
				"panicked", recoveredError(r),
				"actor", a.Name())
		}
	}()

	handler(a, err)
}

// ImmutabilityCheck inspects a message closure before it is enqueued in
// debug mode. Returning a non-nil error fails the post. The closure is
// passed as an opaque value; Go reflection cannot enumerate captured
// variables, so any structural inspection is up to the installed check.
type ImmutabilityCheck func(msg any) error

var (
	// debugMu guards debugCheck.
	debugMu sync.Mutex

	// debugCheck is the installed debug-mode message inspector, nil when
	// debug mode is off.
	debugCheck ImmutabilityCheck
)

// SetDebugMode installs a per-message inspection hook applied to every
// closure at enqueue time. Debug mode is off by default and carries no cost
// until enabled. The hook is write-once: installing a second check panics
// with ErrIllegalActorState. In production mode message immutability rests
// on caller discipline.
func SetDebugMode(check ImmutabilityCheck) {
	if check == nil {
		panic(fmt.Errorf("%w: nil immutability check",
			ErrIllegalActorState))
	}

	debugMu.Lock()
	defer debugMu.Unlock()

	if debugCheck != nil {
		panic(fmt.Errorf("%w: debug mode already enabled",
			ErrIllegalActorState))
	}

	debugCheck = check
}

// inspectMessage applies the debug-mode check to msg, if one is installed.
func inspectMessage(msg any) error {
	debugMu.Lock()
	check := debugCheck
	debugMu.Unlock()

	if check == nil {
		return nil
	}

	return check(msg)
}
