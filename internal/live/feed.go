// Package live models push-driven query results: a Feed re-emits a value
// whenever the underlying store rows change, until the consumer cancels it or
// the store fails terminally.
package live

import "sync"

// Feed is a cancellable subscription to a changing value. Producers call
// Publish for every re-evaluation and Fail exactly once on a terminal store
// error; consumers receive from Updates and must call Cancel on teardown or
// the underlying store listener leaks.
//
// Publish coalesces: if the consumer has not drained the previous value yet,
// it is replaced by the newer one. Consumers always observe the latest state,
// not every intermediate one.
type Feed[T any] struct {
	updates chan T
	errc    chan error
	done    chan struct{}

	mu    sync.Mutex
	stop  func()
	ended bool
}

// NewFeed creates an open feed. The producer should register its teardown
// with OnStop before handing the feed to a consumer.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{
		updates: make(chan T, 1),
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Updates delivers re-emitted values. The channel is never closed; select on
// Done to observe termination.
func (f *Feed[T]) Updates() <-chan T {
	return f.updates
}

// Err delivers the terminal error, if any. At most one error is ever sent,
// and only before Done is closed.
func (f *Feed[T]) Err() <-chan error {
	return f.errc
}

// Done is closed once the feed ended, whether by Cancel or by Fail.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

// OnStop registers the producer's teardown, invoked exactly once when the
// feed ends. If the feed already ended, fn runs immediately.
func (f *Feed[T]) OnStop(fn func()) {
	f.mu.Lock()
	if f.ended {
		f.mu.Unlock()
		fn()
		return
	}
	f.stop = fn
	f.mu.Unlock()
}

// Publish offers v to the consumer, replacing an undrained older value.
// Publishing to an ended feed is a no-op; the ended check and the send are
// serialized with Cancel and Fail so no value slips through afterwards.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return
	}
	for {
		select {
		case f.updates <- v:
			return
		default:
		}
		// Buffer full: drop the stale value and retry.
		select {
		case <-f.updates:
		default:
		}
	}
}

// Fail ends the feed with a terminal error. The subscription is over; the
// caller must create a new one to keep observing.
func (f *Feed[T]) Fail(err error) {
	f.end(err)
}

// Cancel ends the feed and releases the underlying store listener. Safe to
// call multiple times and concurrently with Publish.
func (f *Feed[T]) Cancel() {
	f.end(nil)
}

func (f *Feed[T]) end(err error) {
	f.mu.Lock()
	if f.ended {
		f.mu.Unlock()
		return
	}
	f.ended = true
	stop := f.stop
	f.mu.Unlock()

	if err != nil {
		f.errc <- err
	}
	close(f.done)
	if stop != nil {
		stop()
	}
}

// Failed returns a feed that is already terminally failed, so constructors
// can surface bad arguments or missing authorization on the subscription
// instead of panicking.
func Failed[T any](err error) *Feed[T] {
	f := NewFeed[T]()
	f.Fail(err)
	return f
}

// Map derives a feed whose values are fn applied to every emission of in.
// Cancelling the derived feed cancels in; a terminal error on in propagates.
func Map[T, U any](in *Feed[T], fn func(T) U) *Feed[U] {
	out := NewFeed[U]()
	out.OnStop(in.Cancel)
	go func() {
		for {
			select {
			case v := <-in.Updates():
				out.Publish(fn(v))
			case err := <-in.Err():
				out.Fail(err)
				return
			case <-in.Done():
				// The error, if any, was queued before done closed.
				select {
				case err := <-in.Err():
					out.Fail(err)
				default:
					out.Cancel()
				}
				return
			case <-out.Done():
				return
			}
		}
	}()
	return out
}
