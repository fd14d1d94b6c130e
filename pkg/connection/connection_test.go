package connection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestBackoffDelay(t *testing.T) {
	t.Run("DefaultSchedule", func(t *testing.T) {
		b := NewBackoff()
		want := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second,
		}
		for i, exp := range want {
			if got := b.Delay(i + 1); got != exp {
				t.Errorf("Delay(%d) = %v, want %v", i+1, got, exp)
			}
		}
	})

	t.Run("CustomSchedule", func(t *testing.T) {
		b := NewBackoffWithConfig(100*time.Millisecond, 500*time.Millisecond)
		want := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range want {
			if got := b.Delay(i + 1); got != exp {
				t.Errorf("Delay(%d) = %v, want %v", i+1, got, exp)
			}
		}
	})

	t.Run("HugeAttemptClampsToMax", func(t *testing.T) {
		b := NewBackoff()
		for _, attempt := range []int{40, 64, 1 << 20} {
			if got := b.Delay(attempt); got != DefaultMaxDelay {
				t.Errorf("Delay(%d) = %v, want max", attempt, got)
			}
		}
	})

	t.Run("AttemptBelowOne", func(t *testing.T) {
		b := NewBackoff()
		if got := b.Delay(0); got != DefaultInitialDelay {
			t.Errorf("Delay(0) = %v, want initial", got)
		}
	})

	t.Run("NextAdvancesAndResetRestarts", func(t *testing.T) {
		b := NewBackoff()
		if got := b.Next(); got != 1*time.Second {
			t.Errorf("first Next() = %v", got)
		}
		if got := b.Next(); got != 2*time.Second {
			t.Errorf("second Next() = %v", got)
		}
		if b.Attempts() != 2 {
			t.Errorf("Attempts() = %d, want 2", b.Attempts())
		}
		b.Reset()
		if b.Attempts() != 0 {
			t.Errorf("Attempts() after reset = %d", b.Attempts())
		}
		if got := b.Next(); got != 1*time.Second {
			t.Errorf("Next() after reset = %v", got)
		}
	})
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusIdle:         "IDLE",
		StatusReconnecting: "RECONNECTING",
		StatusFailed:       "FAILED",
		Status(99):         "UNKNOWN",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestReconnectorSucceedsAfterFailures(t *testing.T) {
	mock := clock.NewMock()

	var calls atomic.Int32
	connect := func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("refused")
		}
		return nil
	}

	r := NewReconnector(Config{InitialDelay: time.Second, Clock: mock}, connect)

	attemptCh := make(chan time.Duration, 8)
	r.OnAttempt(func(attempt int, delay time.Duration) { attemptCh <- delay })
	var succeeded atomic.Bool
	r.OnSuccess(func() { succeeded.Store(true) })

	r.Trigger(context.Background())

	// The schedule must double between attempts.
	for _, want := range []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second} {
		select {
		case got := <-attemptCh:
			if got != want {
				t.Fatalf("attempt delay = %v, want %v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("attempt callback never fired")
		}
		mock.Add(want)
	}

	waitFor(t, func() bool { return succeeded.Load() })
	if r.Status() != StatusIdle {
		t.Errorf("status = %v after success, want IDLE", r.Status())
	}
	if calls.Load() != 3 {
		t.Errorf("connect calls = %d, want 3", calls.Load())
	}
	if r.backoff.Attempts() != 0 {
		t.Error("backoff not reset after success")
	}
}

func TestReconnectorGivesUpAfterMaxAttempts(t *testing.T) {
	mock := clock.NewMock()
	connErr := errors.New("host unreachable")
	connect := func(ctx context.Context) error { return connErr }

	r := NewReconnector(Config{
		InitialDelay: time.Second,
		MaxAttempts:  2,
		Clock:        mock,
	}, connect)

	attemptCh := make(chan int, 4)
	r.OnAttempt(func(attempt int, delay time.Duration) { attemptCh <- attempt })
	var giveUpErr atomic.Value
	r.OnGiveUp(func(err error) { giveUpErr.Store(err) })

	r.Trigger(context.Background())

	for _, delay := range []time.Duration{1 * time.Second, 2 * time.Second} {
		select {
		case <-attemptCh:
		case <-time.After(2 * time.Second):
			t.Fatal("attempt callback never fired")
		}
		mock.Add(delay)
	}

	waitFor(t, func() bool { return giveUpErr.Load() != nil })
	err := giveUpErr.Load().(error)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("give-up error = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, connErr) {
		t.Errorf("give-up error does not wrap the last failure: %v", err)
	}
	if r.Status() != StatusFailed {
		t.Errorf("status = %v, want FAILED", r.Status())
	}
}

func TestReconnectorCanBeRetriggeredAfterFailure(t *testing.T) {
	mock := clock.NewMock()
	var fail atomic.Bool
	fail.Store(true)
	connect := func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}

	r := NewReconnector(Config{
		InitialDelay: time.Second,
		MaxAttempts:  1,
		Clock:        mock,
	}, connect)

	attemptCh := make(chan struct{}, 4)
	r.OnAttempt(func(int, time.Duration) { attemptCh <- struct{}{} })

	r.Trigger(context.Background())
	<-attemptCh
	mock.Add(time.Second)
	waitFor(t, func() bool { return r.Status() == StatusFailed })

	// Second run succeeds.
	fail.Store(false)
	r.Trigger(context.Background())
	<-attemptCh
	mock.Add(time.Second)
	waitFor(t, func() bool { return r.Status() == StatusIdle })
}

func TestReconnectorRestartsScheduleEachRun(t *testing.T) {
	mock := clock.NewMock()
	connect := func(ctx context.Context) error { return errors.New("down") }

	r := NewReconnector(Config{
		InitialDelay: time.Second,
		MaxAttempts:  2,
		Clock:        mock,
	}, connect)

	delays := make(chan time.Duration, 8)
	r.OnAttempt(func(attempt int, delay time.Duration) { delays <- delay })

	r.Trigger(context.Background())
	for _, want := range []time.Duration{1 * time.Second, 2 * time.Second} {
		select {
		case got := <-delays:
			if got != want {
				t.Fatalf("first run delay = %v, want %v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("attempt callback never fired")
		}
		mock.Add(want)
	}
	waitFor(t, func() bool { return r.Status() == StatusFailed })

	// The second run must not resume where the failed one left off.
	r.Trigger(context.Background())
	select {
	case got := <-delays:
		if got != 1*time.Second {
			t.Fatalf("second run first delay = %v, want 1s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second run never attempted")
	}
	r.Cancel()
}

func TestReconnectorTriggerWhileActiveIsNoop(t *testing.T) {
	mock := clock.NewMock()
	connect := func(ctx context.Context) error { return errors.New("down") }

	r := NewReconnector(Config{InitialDelay: time.Second, Clock: mock}, connect)

	attemptCh := make(chan struct{}, 4)
	r.OnAttempt(func(int, time.Duration) { attemptCh <- struct{}{} })

	r.Trigger(context.Background())
	<-attemptCh

	// A second trigger must not start a parallel run.
	r.Trigger(context.Background())
	select {
	case <-attemptCh:
		t.Fatal("second run started while first was active")
	case <-time.After(50 * time.Millisecond):
	}

	r.Cancel()
}

func TestReconnectorCancel(t *testing.T) {
	t.Run("ReturnsToIdle", func(t *testing.T) {
		mock := clock.NewMock()
		r := NewReconnector(Config{InitialDelay: time.Second, Clock: mock},
			func(ctx context.Context) error { return errors.New("down") })

		attemptCh := make(chan struct{}, 4)
		r.OnAttempt(func(int, time.Duration) { attemptCh <- struct{}{} })

		r.Trigger(context.Background())
		<-attemptCh
		r.Cancel()

		if r.Status() != StatusIdle {
			t.Errorf("status = %v after cancel, want IDLE", r.Status())
		}

		// Cancel again is a no-op.
		r.Cancel()
	})

	t.Run("SwallowsInFlightOutcome", func(t *testing.T) {
		mock := clock.NewMock()
		entered := make(chan struct{})
		release := make(chan struct{})
		connect := func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		}

		r := NewReconnector(Config{InitialDelay: time.Second, Clock: mock}, connect)

		attemptCh := make(chan struct{}, 4)
		r.OnAttempt(func(int, time.Duration) { attemptCh <- struct{}{} })
		var succeeded atomic.Bool
		r.OnSuccess(func() { succeeded.Store(true) })

		r.Trigger(context.Background())
		<-attemptCh
		mock.Add(time.Second)
		<-entered

		// Cancel while the attempt is in flight, then let it succeed.
		r.Cancel()
		close(release)

		time.Sleep(50 * time.Millisecond)
		if succeeded.Load() {
			t.Error("success callback fired for a cancelled run")
		}
		if r.Status() != StatusIdle {
			t.Errorf("status = %v, want IDLE", r.Status())
		}
	})
}
