package actor

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/petermattis/goid"
)

// actorConfig holds optional configuration collected from Options at handle
// construction time.
type actorConfig struct {
	// name overrides the type-derived default name.
	name string
}

// Option is a functional option for configuring a new actor handle.
type Option func(*actorConfig)

// WithName overrides the default, type-derived actor name. Names are used
// for logging and diagnostics only; identity is carried by the ID.
func WithName(name string) Option {
	return func(cfg *actorConfig) {
		cfg.name = name
	}
}

// Actor is a handle to an independently scheduled unit that owns a private
// mailbox of message closures and a behavior instance of type B. Handles are
// shareable values: posting through a handle only enqueues a closure, it
// never touches the target's behavior directly. The behavior instance itself
// is owned exclusively by the actor's task goroutine.
//
// A handle is configured fluently while in StateCreated:
//
//	counter := actor.New[*Counter]().
//		Behavior(func(ctx *actor.Context[*Counter]) *Counter {
//			return &Counter{}
//		}).
//		OnSignal(func(sig actor.Signal, ctx *actor.HandlerContext) {
//			ctx.Restart()
//		})
//
// Behavior and OnSignal are write-once and legal only from the goroutine
// that created the handle; violations panic with ErrIllegalActorState.
type Actor[B any] struct {
	// id is the unique identifier for the actor.
	id string

	// name is the human readable name, defaulting to a string derived
	// from the behavior type B.
	name string

	// ownerGID identifies the goroutine that constructed the handle.
	// Configuration methods are only legal from this goroutine.
	ownerGID int64

	// state is the actor's lifecycle state. Readers on any goroutine
	// observe at most monotone progression.
	state atomic.Int32

	// factory builds a fresh behavior instance for each incarnation of
	// the actor. Write-once before spawn.
	factory func(*Context[B]) B

	// handler is the optional signal handler invoked on the actor's own
	// task when the loop terminates. Write-once before spawn.
	handler func(Signal, *HandlerContext)

	// mu guards mbox, pending, children and rt. The state transition to
	// StateRunning also happens under mu so that deliver and post
	// observe a consistent (state, mailbox) pair.
	mu sync.Mutex

	// mbox is the current incarnation's mailbox. Created at spawn,
	// replaced on restart, closed at terminal state.
	mbox *mailbox[B]

	// pending is a supervision signal delivered out-of-band via deliver,
	// consumed by the task loop once the closed mailbox unblocks it.
	pending Signal

	// children are the actors spawned from this actor's context. They
	// are requested to shut down when this actor terminates.
	children []Ref

	// rt is the runtime this actor was spawned into.
	rt *runtime
}

// New constructs a fresh actor handle in StateCreated for behaviors of type
// B. The default name is derived from B's type; WithName overrides it.
func New[B any](opts ...Option) *Actor[B] {
	var cfg actorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	name := cfg.name
	if name == "" {
		// Derive a readable default from the behavior type without
		// allocating a zero value instance.
		name = reflect.TypeOf((*B)(nil)).Elem().String()
	}

	return &Actor[B]{
		id:       uuid.NewString(),
		name:     name,
		ownerGID: goid.Get(),
	}
}

// Behavior installs the behavior factory for this actor. The factory is
// invoked with a fresh *Context[B] at spawn and again on every restart; its
// result becomes the behavior instance all message closures are applied to.
// Behavior is write-once, legal only while the actor is in StateCreated and
// only from the goroutine that created the handle. It returns the handle for
// fluent chaining.
func (a *Actor[B]) Behavior(factory func(*Context[B]) B) *Actor[B] {
	a.ensureConfigurable("Behavior")

	if factory == nil {
		panic(fmt.Errorf("%w: nil behavior factory for actor %q",
			ErrIllegalActorState, a.name))
	}
	if a.factory != nil {
		panic(fmt.Errorf("%w: behavior factory already set for "+
			"actor %q", ErrIllegalActorState, a.name))
	}

	a.factory = factory

	return a
}

// OnSignal installs the signal handler invoked on the actor's own task when
// its loop terminates, either through a panic or an explicit shutdown. Like
// Behavior it is write-once, StateCreated-only and owner-goroutine-only, and
// returns the handle for fluent chaining.
func (a *Actor[B]) OnSignal(handler func(Signal, *HandlerContext)) *Actor[B] {
	a.ensureConfigurable("OnSignal")

	if handler == nil {
		panic(fmt.Errorf("%w: nil signal handler for actor %q",
			ErrIllegalActorState, a.name))
	}
	if a.handler != nil {
		panic(fmt.Errorf("%w: signal handler already set for "+
			"actor %q", ErrIllegalActorState, a.name))
	}

	a.handler = handler

	return a
}

// ID returns the unique identifier for this actor.
func (a *Actor[B]) ID() string {
	return a.id
}

// Name returns the human readable name of this actor.
func (a *Actor[B]) Name() string {
	return a.name
}

// State returns the actor's current lifecycle state. It is safe to call
// from any goroutine: a reader that observes StateRunning will never
// observe StateCreated afterwards.
func (a *Actor[B]) State() State {
	return State(a.state.Load())
}

// ensureConfigurable validates that a write-once configuration method is
// being used legally: from the handle's creating goroutine, while the actor
// is still in StateCreated.
func (a *Actor[B]) ensureConfigurable(op string) {
	if gid := goid.Get(); gid != a.ownerGID {
		panic(fmt.Errorf("%w: %s called from goroutine %d, handle "+
			"for %q is owned by goroutine %d", ErrIllegalActorState,
			op, gid, a.name, a.ownerGID))
	}

	if s := a.State(); s != StateCreated {
		panic(fmt.Errorf("%w: %s called on actor %q in state %v",
			ErrIllegalActorState, op, a.name, s))
	}
}

// hasFactory reports whether a behavior factory has been installed.
func (a *Actor[B]) hasFactory() bool {
	return a.factory != nil
}

// adopt records child in this actor's shutdown group.
func (a *Actor[B]) adopt(child Ref) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.children = append(a.children, child)
}

// spawnWith transitions the actor to StateRunning under rt and launches its
// task goroutine. Spawning an actor without a behavior factory, or spawning
// the same actor twice, panics with ErrIllegalActorState.
func (a *Actor[B]) spawnWith(rt *runtime, parent Ref) {
	if a.factory == nil {
		panic(fmt.Errorf("%w: actor %q spawned without a behavior "+
			"factory", ErrIllegalActorState, a.name))
	}

	a.mu.Lock()
	if !a.state.CompareAndSwap(
		int32(StateCreated), int32(StateRunning),
	) {
		s := a.State()
		a.mu.Unlock()

		panic(fmt.Errorf("%w: actor %q spawned in state %v",
			ErrIllegalActorState, a.name, s))
	}

	a.rt = rt
	a.mbox = newMailbox[B]()
	a.mu.Unlock()

	if parent != nil {
		parent.adopt(a)
	}

	rt.register(a)

	log.DebugS(rt.ctx, "Actor spawned",
		"actor", a.name,
		"actor_id", a.id,
		"parent", parentName(parent))

	rt.wg.Add(1)
	go a.process()
}

// parentName renders a parent reference for logging.
func parentName(parent Ref) string {
	if parent == nil {
		return ""
	}

	return parent.Name()
}

// post enqueues a message closure on the actor's current mailbox. It
// returns false when the closure was dropped: the actor was never spawned,
// has terminated, or is between incarnations with its mailbox closed.
func (a *Actor[B]) post(msg func(B)) bool {
	a.mu.Lock()
	mbox := a.mbox
	a.mu.Unlock()

	if a.State() != StateRunning || mbox == nil {
		return false
	}

	return mbox.Enqueue(msg)
}

// deliver hands the actor an out-of-band supervision signal. The signal is
// parked as pending and the current mailbox is closed, which lets the task
// finish its in-flight closure, observe the closed mailbox, and surface the
// signal to the handler. Delivery to an actor that is not running is a
// silent no-op, matching dead-letter semantics.
func (a *Actor[B]) deliver(sig Signal) {
	a.mu.Lock()
	if a.State() != StateRunning || a.mbox == nil {
		a.mu.Unlock()
		return
	}

	a.pending = sig
	mbox := a.mbox
	a.mu.Unlock()

	mbox.Close()
}

// takePending consumes and returns the parked out-of-band signal, if any.
func (a *Actor[B]) takePending() Signal {
	a.mu.Lock()
	defer a.mu.Unlock()

	sig := a.pending
	a.pending = nil

	return sig
}

// currentMailbox returns the mailbox of the current incarnation.
func (a *Actor[B]) currentMailbox() *mailbox[B] {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.mbox
}

// resetForRestart installs a fresh mailbox for the next incarnation. If a
// signal was delivered while the handler was deciding, the fresh mailbox is
// closed immediately so the new incarnation surfaces that signal instead of
// processing messages.
func (a *Actor[B]) resetForRestart() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.mbox = newMailbox[B]()
	if a.pending != nil {
		a.mbox.Close()
	}
}

// process is the actor's task loop. Each iteration of the outer loop is one
// incarnation: build a behavior from the factory, drain the mailbox one
// closure at a time, then run the supervision path on whatever ended the
// loop. The task exits when the handler declines to restart (or none is
// installed), entering the terminal state.
func (a *Actor[B]) process() {
	gid := goid.Get()
	markActorTask(gid)

	rt := a.runtime()

	defer rt.wg.Done()
	defer unmarkActorTask(gid)
	defer a.terminate(rt)

	for {
		actx := newActorContext(a, rt)

		behavior, failure := a.buildBehavior(actx)
		if failure == nil {
			failure = a.loop(actx, behavior)
		}

		// This incarnation is done. Close the mailbox so pending
		// closures are discarded and further posts are dropped while
		// the supervision path runs.
		if mbox := a.currentMailbox(); mbox != nil {
			mbox.Close()
		}
		actx.invalidate()

		var sig Signal
		switch {
		case failure != nil:
			sig = PanicSignal{Err: failure}

		default:
			// A clean loop exit: either the actor shut itself
			// down, or an out-of-band signal closed the mailbox.
			if pending := a.takePending(); pending != nil {
				sig = pending
			} else {
				sig = ShutdownSignal{}
			}
		}

		if a.handler == nil {
			// Panics with no handler installed have nowhere to
			// go but the process-wide uncaught handler.
			if ps, ok := sig.(PanicSignal); ok {
				reportUncaught(a, ps.Err)
			}

			return
		}

		if !a.invokeHandler(sig) {
			return
		}

		// The handler requested a restart: fresh mailbox, fresh
		// behavior, state remains StateRunning.
		a.resetForRestart()

		log.DebugS(rt.ctx, "Actor restarted",
			"actor", a.name,
			"actor_id", a.id)
	}
}

// buildBehavior invokes the behavior factory, converting a factory panic
// into an initial failure for the supervision path.
func (a *Actor[B]) buildBehavior(actx *Context[B]) (behavior B, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
		}
	}()

	behavior = a.factory(actx)

	return behavior, nil
}

// loop dequeues closures and applies them to the behavior, one at a time.
// It returns nil on a clean exit (shutdown requested, or the mailbox was
// closed out from under it by a delivered signal) and the escaped failure
// otherwise. Exactly one closure executes on the behavior at any moment;
// this is the single-threaded-per-actor guarantee.
func (a *Actor[B]) loop(actx *Context[B], behavior B) error {
	mbox := a.currentMailbox()

	for {
		// Interrupts and shutdowns are observed at the closure
		// boundary: the closure (or factory) that triggered them
		// always runs to completion first.
		if actx.takeInterrupt() {
			return ErrInterrupted
		}
		if actx.shutdownRequested() {
			return nil
		}

		msg, ok := mbox.Dequeue()
		if !ok {
			return nil
		}

		if err := a.applyClosure(behavior, msg); err != nil {
			return err
		}
	}
}

// applyClosure applies one message closure to the behavior, capturing any
// panic as the loop-terminating failure.
func (a *Actor[B]) applyClosure(behavior B, msg func(B)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
		}
	}()

	msg(behavior)

	return nil
}

// invokeHandler runs the signal handler on this task with a fresh
// HandlerContext and reports whether a restart was requested. A panic
// escaping the handler is routed to the process-wide uncaught handler and
// never causes recursive supervision; it also cancels any restart request.
func (a *Actor[B]) invokeHandler(sig Signal) (restart bool) {
	hctx := newHandlerContext(a, a.runtime())
	defer hctx.invalidate()

	defer func() {
		if r := recover(); r != nil {
			reportUncaught(a, recoveredError(r))
			restart = false
		}
	}()

	a.handler(sig, hctx)

	return hctx.restartRequested
}

// runtime returns the runtime this actor was spawned into. Stable after
// spawn.
func (a *Actor[B]) runtime() *runtime {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.rt
}

// terminate moves the actor to its terminal state: the state cell flips to
// StateShutdown, the mailbox is closed and dropped, and every child spawned
// from this actor's context is requested to shut down. The behavior
// instance dies with the task goroutine's frame.
func (a *Actor[B]) terminate(rt *runtime) {
	a.mu.Lock()
	a.state.Store(int32(StateShutdown))

	mbox := a.mbox
	a.mbox = nil
	a.pending = nil

	children := a.children
	a.children = nil
	a.mu.Unlock()

	if mbox != nil {
		mbox.Close()
	}

	for _, child := range children {
		if child.State() != StateShutdown {
			child.deliver(ShutdownSignal{})
		}
	}

	rt.unregister(a)

	log.DebugS(rt.ctx, "Actor terminated",
		"actor", a.name,
		"actor_id", a.id)
}
