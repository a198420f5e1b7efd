package live

import (
	"errors"
	"testing"
	"time"
)

func recv[T any](t *testing.T, f *Feed[T]) T {
	t.Helper()
	select {
	case v := <-f.Updates():
		return v
	case err := <-f.Err():
		t.Fatalf("unexpected feed error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed emission")
	}
	var zero T
	return zero
}

func TestFeed_PublishAndReceive(t *testing.T) {
	f := NewFeed[int]()
	defer f.Cancel()

	f.Publish(42)
	if got := recv(t, f); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestFeed_CoalescesToLatest(t *testing.T) {
	f := NewFeed[int]()
	defer f.Cancel()

	f.Publish(1)
	f.Publish(2)
	f.Publish(3)

	if got := recv(t, f); got != 3 {
		t.Errorf("got %d, want latest value 3", got)
	}
}

func TestFeed_CancelStopsEmissionsAndRunsStop(t *testing.T) {
	f := NewFeed[int]()
	stopped := false
	f.OnStop(func() { stopped = true })

	f.Cancel()
	f.Cancel() // idempotent

	if !stopped {
		t.Error("expected OnStop hook to run on cancel")
	}
	f.Publish(1)
	select {
	case v := <-f.Updates():
		t.Errorf("received %d after cancel", v)
	default:
	}
	select {
	case <-f.Done():
	default:
		t.Error("expected Done to be closed after cancel")
	}
}

func TestFeed_FailIsTerminal(t *testing.T) {
	f := NewFeed[int]()
	stopped := false
	f.OnStop(func() { stopped = true })

	want := errors.New("listener lost")
	f.Fail(want)

	select {
	case err := <-f.Err():
		if !errors.Is(err, want) {
			t.Errorf("got error %v, want %v", err, want)
		}
	case <-time.After(time.Second):
		t.Fatal("expected terminal error")
	}
	select {
	case <-f.Done():
	default:
		t.Error("expected Done closed after fail")
	}
	if !stopped {
		t.Error("expected OnStop hook to run on fail")
	}
}

func TestFailed(t *testing.T) {
	want := errors.New("bad argument")
	f := Failed[int](want)

	select {
	case err := <-f.Err():
		if !errors.Is(err, want) {
			t.Errorf("got %v, want %v", err, want)
		}
	default:
		t.Fatal("expected the error to be queued already")
	}
	select {
	case <-f.Done():
	default:
		t.Error("expected a failed feed to be done")
	}
	f.Publish(1)
	select {
	case v := <-f.Updates():
		t.Errorf("received %d from a failed feed", v)
	default:
	}
}

func TestFeed_OnStopAfterEndRunsImmediately(t *testing.T) {
	f := NewFeed[int]()
	f.Cancel()

	ran := false
	f.OnStop(func() { ran = true })
	if !ran {
		t.Error("expected OnStop to run immediately on an ended feed")
	}
}

func TestMap_TransformsAndPropagatesCancel(t *testing.T) {
	in := NewFeed[int]()
	out := Map(in, func(v int) int { return v * 10 })

	in.Publish(7)
	if got := recv(t, out); got != 70 {
		t.Errorf("got %d, want 70", got)
	}

	out.Cancel()
	select {
	case <-in.Done():
	case <-time.After(2 * time.Second):
		t.Error("expected cancel to propagate to the source feed")
	}
}

func TestMap_PropagatesTerminalError(t *testing.T) {
	in := NewFeed[int]()
	out := Map(in, func(v int) int { return v })

	want := errors.New("store gone")
	in.Fail(want)

	select {
	case err := <-out.Err():
		if !errors.Is(err, want) {
			t.Errorf("got %v, want %v", err, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected error to propagate through Map")
	}
}
