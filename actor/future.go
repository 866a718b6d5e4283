package actor

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// promise is the single implementation of both Promise and Future: a
// one-shot completion cell backed by a channel close.
type promise[T any] struct {
	// done is closed exactly once, after result has been written.
	done chan struct{}

	// once guards the completion.
	once sync.Once

	// result is the completed outcome; only readable after done closes.
	result fn.Result[T]
}

// NewPromise creates an incomplete promise. The producer completes it at
// most once; every consumer of the associated Future observes the same
// result.
func NewPromise[T any]() Promise[T] {
	return &promise[T]{
		done: make(chan struct{}),
	}
}

// Future returns the Future interface associated with this Promise.
func (p *promise[T]) Future() Future[T] {
	return p
}

// Complete attempts to set the result of the future. It returns true if
// this call was the first to complete it.
func (p *promise[T]) Complete(result fn.Result[T]) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		completed = true
	})

	return completed
}

// Await blocks until the result is available or the context is cancelled,
// then returns it.
func (p *promise[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// ThenApply registers a function to transform the result of the future,
// returning a new future for the transformed result. Errors pass through
// untransformed.
func (p *promise[T]) ThenApply(ctx context.Context,
	f func(T) T,
) Future[T] {
	next := &promise[T]{done: make(chan struct{})}

	go func() {
		select {
		case <-p.done:
			value, err := p.result.Unpack()
			if err != nil {
				next.Complete(fn.Err[T](err))
				return
			}

			next.Complete(fn.Ok(f(value)))

		case <-ctx.Done():
			next.Complete(fn.Err[T](ctx.Err()))
		}
	}()

	return next
}

// OnComplete registers a function to be called once the result is ready, or
// with the context's error if ctx is cancelled first.
func (p *promise[T]) OnComplete(ctx context.Context,
	f func(fn.Result[T]),
) {
	go func() {
		select {
		case <-p.done:
			f(p.result)

		case <-ctx.Done():
			f(fn.Err[T](ctx.Err()))
		}
	}()
}

// Ask posts a closure to target that applies call to the behavior and
// completes the returned future with the outcome. It is a request-reply
// convenience for embedders (the HTTP front-end uses it for route
// handlers); the mailbox still carries nothing but closures, and the reply
// travels through the promise rather than a return channel.
//
// When the post is dropped because the target has terminated, the future
// completes immediately with ErrActorTerminated. When the target terminates
// after accepting the post but before executing it, the closure is
// discarded with the mailbox; callers should therefore Await with a
// context that carries a deadline.
func Ask[B any, R any](c PostContext, target *Actor[B],
	call func(B) (R, error),
) Future[R] {
	c.ensureLive("Ask")

	if target == nil {
		panic(fmt.Errorf("%w: Ask invoked with nil target",
			ErrIllegalActorState))
	}
	if call == nil {
		panic(fmt.Errorf("%w: Ask invoked with nil call",
			ErrIllegalActorState))
	}

	if err := inspectMessage(call); err != nil {
		panic(fmt.Errorf("%w: message closure rejected for actor "+
			"%q: %v", ErrIllegalActorState, target.Name(), err))
	}

	reply := NewPromise[R]()

	delivered := target.post(func(behavior B) {
		value, err := call(behavior)
		if err != nil {
			reply.Complete(fn.Err[R](err))
			return
		}

		reply.Complete(fn.Ok(value))
	})
	if !delivered {
		reply.Complete(fn.Err[R](fmt.Errorf("%w: %s",
			ErrActorTerminated, target.Name())))
	}

	return reply.Future()
}
