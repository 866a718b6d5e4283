package actor

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrIllegalActorState indicates misuse of the runtime API: an operation
// invoked from the wrong goroutine, on an expired context, on an actor in the
// wrong lifecycle state, or a duplicate write to a write-once slot. It is
// always raised synchronously to the offending caller, carried inside a
// panic so that misuse inside a message closure surfaces through the normal
// supervision path. Run is the exception: it returns its argument
// validation failures as errors wrapping ErrIllegalActorState.
var ErrIllegalActorState = fmt.Errorf("illegal actor state")

// ErrInterrupted is the failure kind wrapped into a PanicSignal when an
// actor task is interrupted, either via Context.Interrupt or by cancellation
// of the context passed to Run.
var ErrInterrupted = fmt.Errorf("actor interrupted")

// ErrActorTerminated indicates that an operation failed because the target
// actor was terminated or never started. Futures returned by Ask complete
// with this error when the underlying post is dropped.
var ErrActorTerminated = fmt.Errorf("actor terminated")

// State describes an actor's position in its lifecycle. Transitions are
// strictly monotone: StateCreated -> StateRunning -> StateShutdown, with no
// cycles. A restart replaces the actor's mailbox and behavior but does not
// move the state away from StateRunning.
type State int32

const (
	// StateCreated is the initial state of a fresh handle. Behavior and
	// OnSignal are only writable while the actor is in this state.
	StateCreated State = iota

	// StateRunning means the actor's task has been scheduled and its
	// mailbox accepts posts.
	StateRunning

	// StateShutdown is the terminal state. Posts to an actor in this
	// state are silently dropped.
	StateShutdown
)

// String returns a human readable representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Signal is a sealed interface over the supervision events delivered to an
// actor's signal handler. The variant set is closed: PanicSignal and
// ShutdownSignal are the only implementations.
type Signal interface {
	// signalMarker is a private method that makes this a sealed
	// interface.
	signalMarker()
}

// PanicSignal reports that a failure escaped one of the actor's message
// closures, its behavior factory, or that the task was interrupted. The
// original failure is preserved in Err so handlers can inspect it with
// errors.Is and errors.As.
type PanicSignal struct {
	// Err is the failure that terminated the actor's loop.
	Err error
}

// signalMarker implements the Signal sealed interface.
func (PanicSignal) signalMarker() {}

// ShutdownSignal reports an explicit termination request: the actor shut
// itself down via Context.Shutdown, a peer's signal handler propagated
// termination via HandlerContext.Signal, or the parent that spawned the
// actor terminated.
type ShutdownSignal struct{}

// signalMarker implements the Signal sealed interface.
func (ShutdownSignal) signalMarker() {}

// Ref is the non-generic base interface for actor handles. It enables the
// runtime, signal handlers and data structures to hold heterogeneous actors
// without knowing their behavior types. The interface is sealed by its
// unexported methods; *Actor[B] is the only implementation.
type Ref interface {
	// ID returns the unique identifier for this actor.
	ID() string

	// Name returns the human readable name of this actor.
	Name() string

	// State returns the actor's current lifecycle state. It is safe to
	// call from any goroutine and observations are monotone.
	State() State

	// spawnWith transitions the actor from StateCreated to StateRunning
	// under the given runtime and schedules its task. A non-nil parent
	// records the actor as that parent's child.
	spawnWith(rt *runtime, parent Ref)

	// deliver hands the actor an out-of-band supervision signal. The
	// currently executing closure (if any) runs to completion, the
	// mailbox is closed, and the signal is surfaced to the actor's
	// handler.
	deliver(sig Signal)

	// adopt records child as a member of this actor's shutdown group.
	adopt(child Ref)

	// hasFactory reports whether a behavior factory has been installed.
	hasFactory() bool
}

// Future represents the result of an asynchronous computation. It allows
// consumers to wait for the result (Await), apply transformations upon
// completion (ThenApply), or register a callback to be executed when the
// result is available (OnComplete).
type Future[T any] interface {
	// Await blocks until the result is available or the context is
	// cancelled, then returns it.
	Await(ctx context.Context) fn.Result[T]

	// ThenApply registers a function to transform the result of a
	// future. The original future is not modified, a new instance of the
	// future is returned. If the passed context is cancelled while
	// waiting for the original future to complete, the new future will
	// complete with the context's error.
	ThenApply(ctx context.Context, f func(T) T) Future[T]

	// OnComplete registers a function to be called when the result of
	// the future is ready. If the passed context is cancelled before the
	// future completes, the callback function will be invoked with the
	// context's error.
	OnComplete(ctx context.Context, f func(fn.Result[T]))
}

// Promise is an interface that allows for the completion of an associated
// Future. The producer of an asynchronous result uses a Promise to set the
// outcome, while consumers use the associated Future to retrieve it.
type Promise[T any] interface {
	// Future returns the Future interface associated with this Promise.
	Future() Future[T]

	// Complete attempts to set the result of the future. It returns true
	// if this call successfully set the result (i.e., it was the first
	// to complete it), and false if the future had already been
	// completed.
	Complete(result fn.Result[T]) bool
}

// recoveredError normalizes a recovered panic value into an error,
// preserving the original error object when the panic carried one.
func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}

	return fmt.Errorf("actor panic: %v", r)
}
