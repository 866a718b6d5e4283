package actor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// sink records integers posted to it until told to stop.
type sink struct {
	ctx  *Context[*sink]
	seen []int
}

func (s *sink) record(v int) { s.seen = append(s.seen, v) }
func (s *sink) stop()        { s.ctx.Shutdown() }

// TestPropertyFIFOPerSender checks, across randomized message counts, that
// a receiver observes a single sender's posts in program order.
func TestPropertyFIFOPerSender(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(rt, "n")

		trace := make(chan []int, 1)

		receiver := New[*sink]().
			Behavior(func(ctx *Context[*sink]) *sink {
				return &sink{ctx: ctx}
			})

		err := Run(
			context.Background(), []Ref{receiver},
			func(sctx *StartContext) {
				for i := 0; i < n; i++ {
					i := i
					Tell(sctx, receiver, func(s *sink) {
						s.record(i)
					})
				}
				Tell(sctx, receiver, func(s *sink) {
					trace <- append([]int{}, s.seen...)
					s.stop()
				})
			},
		)
		if err != nil {
			rt.Fatalf("Run failed: %v", err)
		}

		seen := <-trace
		if len(seen) != n {
			rt.Fatalf("got %d messages, want %d", len(seen), n)
		}
		for i, v := range seen {
			if v != i {
				rt.Fatalf("position %d holds %d, want %d",
					i, v, i)
			}
		}
	})
}

// relay posts a tagged sequence of integers to a sink, interleaving with
// other relays.
type relay struct {
	ctx    *Context[*relay]
	target *Actor[*sink]
}

func (r *relay) send(tag, count, stride int) {
	for i := 0; i < count; i++ {
		v := tag*stride + i
		Tell(r.ctx, r.target, func(s *sink) {
			s.record(v)
		})
	}
}

// TestPropertyFIFOAcrossSenders checks that with multiple concurrent
// senders, each sender's subsequence still arrives in program order, while
// cross-sender interleaving is unconstrained.
func TestPropertyFIFOAcrossSenders(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		var (
			numSenders = rapid.IntRange(2, 4).Draw(rt, "senders")
			perSender  = rapid.IntRange(1, 32).Draw(rt, "msgs")
			stride     = 1 << 16
		)

		trace := make(chan []int, 1)

		receiver := New[*sink]().
			Behavior(func(ctx *Context[*sink]) *sink {
				return &sink{ctx: ctx}
			})

		var pendingSenders atomic.Int32
		pendingSenders.Store(int32(numSenders))

		actors := []Ref{receiver}
		var relays []*Actor[*relay]
		for i := 0; i < numSenders; i++ {
			r := New[*relay]().
				Behavior(func(ctx *Context[*relay]) *relay {
					return &relay{
						ctx:    ctx,
						target: receiver,
					}
				})
			relays = append(relays, r)
			actors = append(actors, r)
		}

		err := Run(
			context.Background(), actors,
			func(sctx *StartContext) {
				for i, r := range relays {
					tag := i
					Tell(sctx, r, func(b *relay) {
						b.send(tag, perSender, stride)

						// The last relay done asks
						// the receiver to publish
						// and stop. Posting through
						// the receiver keeps the
						// stop after every send due
						// to per-pair FIFO.
						if pendingSenders.Add(-1) == 0 {
							Tell(b.ctx, b.target,
								func(s *sink) {
									trace <- append(
										[]int{},
										s.seen...,
									)
									s.stop()
								})
						}
						b.ctx.Shutdown()
					})
				}
			},
		)
		if err != nil {
			rt.Fatalf("Run failed: %v", err)
		}

		seen := <-trace
		lastPerTag := make(map[int]int)
		total := 0
		for _, v := range seen {
			tag := v / stride
			if last, ok := lastPerTag[tag]; ok && v <= last {
				rt.Fatalf("sender %d out of order: %d after %d",
					tag, v, last)
			}
			lastPerTag[tag] = v
			total++
		}
		if total != numSenders*perSender {
			rt.Fatalf("received %d messages, want %d",
				total, numSenders*perSender)
		}
	})
}

// TestPropertySingleThreadedPerActor checks that no two closures ever
// overlap on one actor, using an in-flight gauge that must never exceed
// one.
func TestPropertySingleThreadedPerActor(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		var (
			numSenders = rapid.IntRange(2, 4).Draw(rt, "senders")
			perSender  = rapid.IntRange(8, 32).Draw(rt, "msgs")
		)

		var (
			inFlight  atomic.Int32
			violation atomic.Bool
			remaining atomic.Int32
		)
		remaining.Store(int32(numSenders * perSender))

		target := New[*sink]().
			Behavior(func(ctx *Context[*sink]) *sink {
				return &sink{ctx: ctx}
			})

		work := func(s *sink) {
			if inFlight.Add(1) != 1 {
				violation.Store(true)
			}
			time.Sleep(time.Microsecond)
			inFlight.Add(-1)

			if remaining.Add(-1) == 0 {
				s.stop()
			}
		}

		actors := []Ref{target}
		var relays []*Actor[*relay]
		for i := 0; i < numSenders; i++ {
			r := New[*relay]().
				Behavior(func(ctx *Context[*relay]) *relay {
					return &relay{
						ctx:    ctx,
						target: target,
					}
				})
			relays = append(relays, r)
			actors = append(actors, r)
		}

		err := Run(
			context.Background(), actors,
			func(sctx *StartContext) {
				for _, r := range relays {
					Tell(sctx, r, func(b *relay) {
						for i := 0; i < perSender; i++ {
							Tell(b.ctx, b.target,
								work)
						}
						b.ctx.Shutdown()
					})
				}
			},
		)
		if err != nil {
			rt.Fatalf("Run failed: %v", err)
		}

		if violation.Load() {
			rt.Fatalf("two closures overlapped on one actor")
		}
	})
}

// TestMonotoneState samples an actor's state from a concurrent reader for
// the whole lifecycle and asserts the observations never regress.
func TestMonotoneState(t *testing.T) {
	t.Parallel()

	subject := New[*sink]().
		Behavior(func(ctx *Context[*sink]) *sink {
			return &sink{ctx: ctx}
		})

	samplerDone := make(chan []State)
	stopSampling := make(chan struct{})
	go func() {
		var samples []State
		for {
			samples = append(samples, subject.State())

			select {
			case <-stopSampling:
				samples = append(samples, subject.State())
				samplerDone <- samples
				return
			default:
				time.Sleep(10 * time.Microsecond)
			}
		}
	}()

	err := Run(
		context.Background(), []Ref{subject},
		func(sctx *StartContext) {
			for i := 0; i < 100; i++ {
				i := i
				Tell(sctx, subject, func(s *sink) {
					s.record(i)
				})
			}
			Tell(sctx, subject, func(s *sink) {
				s.stop()
			})
		},
	)
	require.NoError(t, err)

	close(stopSampling)
	samples := <-samplerDone

	prev := StateCreated
	for _, s := range samples {
		require.GreaterOrEqual(t, int32(s), int32(prev),
			"state observations must be monotone")
		prev = s
	}
	require.Equal(t, StateShutdown, subject.State())
}
