package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder is a minimal behavior type for mailbox level tests.
type recorder struct {
	values []int
}

// TestMailboxFIFO tests that closures are dequeued in enqueue order.
func TestMailboxFIFO(t *testing.T) {
	t.Parallel()

	mbox := newMailbox[*recorder]()
	defer mbox.Close()

	for i := 0; i < 10; i++ {
		i := i
		ok := mbox.Enqueue(func(r *recorder) {
			r.values = append(r.values, i)
		})
		require.True(t, ok, "Enqueue should succeed on open mailbox")
	}
	require.Equal(t, 10, mbox.Len())

	r := &recorder{}
	for i := 0; i < 10; i++ {
		msg, ok := mbox.Dequeue()
		require.True(t, ok, "Dequeue should yield queued closure")
		msg(r)
	}

	require.Equal(
		t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, r.values,
		"closures should execute in enqueue order",
	)
}

// TestMailboxEnqueueAfterClose tests that posts to a closed mailbox are
// rejected so callers can drop them silently.
func TestMailboxEnqueueAfterClose(t *testing.T) {
	t.Parallel()

	mbox := newMailbox[*recorder]()
	mbox.Close()

	ok := mbox.Enqueue(func(r *recorder) {})
	require.False(t, ok, "Enqueue should fail on closed mailbox")
}

// TestMailboxDequeueUnblocksOnClose tests that a consumer blocked in
// Dequeue is woken by Close and observes the closed sentinel.
func TestMailboxDequeueUnblocksOnClose(t *testing.T) {
	t.Parallel()

	mbox := newMailbox[*recorder]()

	unblocked := make(chan bool, 1)
	go func() {
		_, ok := mbox.Dequeue()
		unblocked <- ok
	}()

	// Give the consumer a chance to block, then close.
	time.Sleep(20 * time.Millisecond)
	mbox.Close()

	select {
	case ok := <-unblocked:
		require.False(t, ok, "Dequeue should report close")

	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock on close")
	}
}

// TestMailboxCloseDiscardsPending tests that closures still queued at close
// time are never returned.
func TestMailboxCloseDiscardsPending(t *testing.T) {
	t.Parallel()

	mbox := newMailbox[*recorder]()

	for i := 0; i < 5; i++ {
		require.True(t, mbox.Enqueue(func(r *recorder) {}))
	}
	mbox.Close()

	msg, ok := mbox.Dequeue()
	require.False(t, ok, "Dequeue should report close")
	require.Nil(t, msg, "no pending closure should survive close")
	require.Zero(t, mbox.Len())
}

// TestMailboxCloseIdempotent tests that repeated closes are safe.
func TestMailboxCloseIdempotent(t *testing.T) {
	t.Parallel()

	mbox := newMailbox[*recorder]()
	mbox.Close()
	mbox.Close()

	require.True(t, mbox.IsClosed())
}

// TestMailboxConcurrentSenders tests that concurrent producers never lose a
// closure and that each producer's closures arrive in its program order.
func TestMailboxConcurrentSenders(t *testing.T) {
	t.Parallel()

	const (
		numSenders = 8
		perSender  = 100
	)

	mbox := newMailbox[*recorder]()

	var wg sync.WaitGroup
	for s := 0; s < numSenders; s++ {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := 0; i < perSender; i++ {
				v := s*perSender + i
				ok := mbox.Enqueue(func(r *recorder) {
					r.values = append(r.values, v)
				})
				require.True(t, ok)
			}
		}()
	}
	wg.Wait()

	r := &recorder{}
	for i := 0; i < numSenders*perSender; i++ {
		msg, ok := mbox.Dequeue()
		require.True(t, ok)
		msg(r)
	}

	// Per sender, values must appear in increasing order.
	lastPerSender := make(map[int]int)
	for _, v := range r.values {
		sender := v / perSender
		if last, seen := lastPerSender[sender]; seen {
			require.Greater(
				t, v, last,
				"per-sender order must be preserved",
			)
		}
		lastPerSender[sender] = v
	}
	require.Len(t, lastPerSender, numSenders)
}
