package actor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// contextCore carries what every capability context shares: the identity of
// the goroutine the context was issued to, a liveness flag flipped when the
// owning scope ends, and a back reference to the runtime. Every operation
// on a context validates both before doing anything observable.
type contextCore struct {
	// gid identifies the goroutine this context is bound to.
	gid int64

	// alive is flipped to false when the context's owning scope ends:
	// the startup closure returns, the actor incarnation ends, or the
	// handler invocation returns.
	alive atomic.Bool

	// rt is the runtime that issued this context.
	rt *runtime
}

// newContextCore binds a fresh, live context core to the calling goroutine.
func newContextCore(rt *runtime) contextCore {
	core := contextCore{
		gid: goid.Get(),
		rt:  rt,
	}
	core.alive.Store(true)

	return core
}

// ensureLive panics with ErrIllegalActorState if the context is used from a
// goroutine other than the one it was issued to, or after its owning scope
// has ended. The goroutine check runs first so that a context leaked to
// another goroutine can produce no side effect at all.
func (c *contextCore) ensureLive(op string) {
	if gid := goid.Get(); gid != c.gid {
		panic(fmt.Errorf("%w: %s invoked from goroutine %d, context "+
			"is bound to goroutine %d", ErrIllegalActorState, op,
			gid, c.gid))
	}

	if !c.alive.Load() {
		panic(fmt.Errorf("%w: %s invoked on expired context",
			ErrIllegalActorState, op))
	}
}

// invalidate ends the context's liveness window.
func (c *contextCore) invalidate() {
	c.alive.Store(false)
}

// runtime returns the runtime that issued this context.
func (c *contextCore) runtime() *runtime {
	return c.rt
}

// PostContext is the capability to post message closures, shared by all
// three context kinds. The interface is sealed: StartContext, Context[B]
// and HandlerContext are its only implementations, and each refuses
// operations from goroutines other than the one it was issued to.
type PostContext interface {
	ensureLive(op string)
	runtime() *runtime
}

// SpawnContext is the capability to spawn actors, held by StartContext and
// Context[B]. HandlerContext deliberately does not implement it: a signal
// handler may post, restart and signal, but never spawn.
type SpawnContext interface {
	PostContext

	// spawnParent returns the actor whose context is spawning, or nil
	// when spawning from the startup closure.
	spawnParent() Ref
}

// StartContext is the capability object passed to the startup closure of
// Run. It can post and spawn, and expires when the startup closure returns.
type StartContext struct {
	contextCore
}

// newStartContext creates a StartContext bound to the calling goroutine.
func newStartContext(rt *runtime) *StartContext {
	return &StartContext{
		contextCore: newContextCore(rt),
	}
}

// spawnParent implements SpawnContext; startup-spawned actors are roots of
// the supervision forest.
func (c *StartContext) spawnParent() Ref {
	return nil
}

// Context is the capability object an actor's task holds for its own
// lifetime. It is passed to the behavior factory and remains valid for the
// incarnation it was created for: a restart issues a fresh Context, and
// terminal state expires it permanently.
type Context[B any] struct {
	contextCore

	// actor is the handle of the actor running this task.
	actor *Actor[B]

	// interrupted requests an interrupt at the next closure boundary.
	interrupted atomic.Bool

	// stopping requests a clean loop exit at the next closure boundary.
	stopping atomic.Bool
}

// newActorContext creates the context for one incarnation of a's task. It
// must be invoked on the actor's own goroutine, which binds the context to
// that task.
func newActorContext[B any](a *Actor[B], rt *runtime) *Context[B] {
	return &Context[B]{
		contextCore: newContextCore(rt),
		actor:       a,
	}
}

// Self returns the handle of the actor running this task. The handle is
// statically typed by the behavior type, so no capability-type check can
// fail at runtime.
func (c *Context[B]) Self() *Actor[B] {
	c.ensureLive("Self")

	return c.actor
}

// Shutdown marks the actor for a clean exit. The currently executing
// closure runs to completion; posts it makes after Shutdown are still
// enqueued (and discarded with the rest of the mailbox when the loop
// exits). The actor's signal handler, if any, observes a ShutdownSignal.
func (c *Context[B]) Shutdown() {
	c.ensureLive("Shutdown")
	c.stopping.Store(true)
}

// Interrupt requests an interrupt of this task. The current closure runs to
// completion, then the loop terminates with a PanicSignal wrapping
// ErrInterrupted, exactly as if the task had been interrupted externally.
func (c *Context[B]) Interrupt() {
	c.ensureLive("Interrupt")
	c.interrupted.Store(true)
}

// Panic annotates err as this actor's failure and unwinds the current
// closure by panicking with it. The supervision path derives the
// PanicSignal from the escaping error, so the handler observes err itself.
func (c *Context[B]) Panic(err error) {
	c.ensureLive("Panic")

	if err == nil {
		panic(fmt.Errorf("%w: Panic invoked with nil error",
			ErrIllegalActorState))
	}

	panic(err)
}

// spawnParent implements SpawnContext; actors spawned from this context
// become children of this actor.
func (c *Context[B]) spawnParent() Ref {
	return c.actor
}

// takeInterrupt consumes a pending interrupt request.
func (c *Context[B]) takeInterrupt() bool {
	return c.interrupted.Swap(false)
}

// shutdownRequested reports whether Shutdown has been invoked on this
// context.
func (c *Context[B]) shutdownRequested() bool {
	return c.stopping.Load()
}

// HandlerContext is the capability object passed to a signal handler. It
// lives for exactly one handler invocation and exposes posting, restarting
// the owning actor, and signalling peers.
type HandlerContext struct {
	contextCore

	// actor is the actor whose handler is running.
	actor Ref

	// restartRequested records a Restart call. Only ever touched on the
	// handler's own goroutine.
	restartRequested bool
}

// newHandlerContext creates the context for a single handler invocation on
// a's task goroutine.
func newHandlerContext(a Ref, rt *runtime) *HandlerContext {
	return &HandlerContext{
		contextCore: newContextCore(rt),
		actor:       a,
	}
}

// Restart requests that the owning actor be restarted: a fresh mailbox is
// allocated and the behavior factory is re-invoked with a new Context,
// discarding all prior behavior state. The actor's state remains
// StateRunning throughout.
func (c *HandlerContext) Restart() {
	c.ensureLive("Restart")
	c.restartRequested = true
}

// Signal delivers a supervision signal to another actor: the target
// finishes its in-flight closure, its mailbox is closed, and its handler
// observes sig. This is how a dying actor's supervisor propagates
// termination (or a panic) to its peers.
func (c *HandlerContext) Signal(target Ref, sig Signal) {
	c.ensureLive("Signal")

	if target == nil {
		panic(fmt.Errorf("%w: Signal invoked with nil target",
			ErrIllegalActorState))
	}
	if sig == nil {
		panic(fmt.Errorf("%w: Signal invoked with nil signal",
			ErrIllegalActorState))
	}

	target.deliver(sig)
}

// Tell posts a message closure to target's mailbox and returns immediately.
// The closure will be applied to target's behavior by target's own task;
// per sender-receiver pair, closures execute in the order they were posted.
// Posting to an actor that has shut down (or was never spawned) is a silent
// drop. Tell panics with ErrIllegalActorState when c is used outside its
// goroutine or liveness window, and when debug mode rejects the closure.
func Tell[B any](c PostContext, target *Actor[B], msg func(B)) {
	c.ensureLive("Tell")

	if target == nil {
		panic(fmt.Errorf("%w: Tell invoked with nil target",
			ErrIllegalActorState))
	}
	if msg == nil {
		panic(fmt.Errorf("%w: Tell invoked with nil message closure",
			ErrIllegalActorState))
	}

	if err := inspectMessage(msg); err != nil {
		panic(fmt.Errorf("%w: message closure rejected for actor "+
			"%q: %v", ErrIllegalActorState, target.Name(), err))
	}

	if !target.post(msg) {
		log.TraceS(context.Background(), "Message dropped, target "+
			"not running",
			"actor", target.Name(),
			"actor_id", target.ID(),
			"target_state", target.State())
	}
}

// Spawn transitions child from StateCreated to StateRunning and schedules
// its task. It is legal from a StartContext or a Context; actors spawned
// from an actor's context become that actor's children and are requested to
// shut down when the parent terminates. Spawning an actor twice, or one
// without a behavior factory, panics with ErrIllegalActorState. It returns
// the child handle for convenience.
func Spawn[B any](c SpawnContext, child *Actor[B]) *Actor[B] {
	c.ensureLive("Spawn")

	if child == nil {
		panic(fmt.Errorf("%w: Spawn invoked with nil actor",
			ErrIllegalActorState))
	}

	child.spawnWith(c.runtime(), c.spawnParent())

	return child
}
