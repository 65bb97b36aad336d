package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeTime advances its clock instead of sleeping. A frozen fakeTime only
// records the sleeps.
type fakeTime struct {
	mu     sync.Mutex
	now    time.Time
	frozen bool
	slept  []time.Duration
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slept = append(f.slept, d)
	if !f.frozen {
		f.now = f.now.Add(d)
	}
	return nil
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Date(2025, 9, 6, 9, 0, 0, 0, time.UTC)}
}

func TestWait_SpacesTokens(t *testing.T) {
	ft := newFakeTime()
	l := New(Options{PerMinute: 60, Now: ft.Now, Sleep: ft.Sleep})

	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() #%d failed: %v", i, err)
		}
	}

	if len(ft.slept) != 2 {
		t.Fatalf("slept %d times, want 2: %v", len(ft.slept), ft.slept)
	}
	for i, d := range ft.slept {
		if d != time.Second {
			t.Errorf("sleep #%d = %v, want 1s", i, d)
		}
	}
}

// TestWait_SharedAcrossGoroutines tests that concurrent callers each get
// their own slot and none of them fails
func TestWait_SharedAcrossGoroutines(t *testing.T) {
	ft := newFakeTime()
	ft.frozen = true
	l := New(Options{PerMinute: 60, Now: ft.Now, Sleep: ft.Sleep})

	const callers = 6
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Wait(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Wait() failed: %v", err)
		}
	}

	got := append([]time.Duration(nil), ft.slept...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != callers-1 {
		t.Fatalf("slept %d times, want %d: %v", len(got), callers-1, got)
	}
	for i, d := range got {
		if want := time.Duration(i+1) * time.Second; d != want {
			t.Errorf("sleep #%d = %v, want %v", i, d, want)
		}
	}
}

func TestWait_RefillsOverTime(t *testing.T) {
	ft := newFakeTime()
	l := New(Options{PerMinute: 60, Now: ft.Now, Sleep: ft.Sleep})

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	ft.Sleep(context.Background(), 5*time.Second)
	ft.slept = nil

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	if len(ft.slept) != 0 {
		t.Errorf("Wait() slept %v after refill, want no sleep", ft.slept)
	}
}

func TestWait_ContextCanceled(t *testing.T) {
	ft := newFakeTime()
	l := New(Options{
		PerMinute: 60,
		Now:       ft.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			return context.DeadlineExceeded
		},
	})

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() failed: %v", err)
	}
	if err := l.Wait(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want context.DeadlineExceeded", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait(canceled) = %v, want context.Canceled", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	l := New(Options{})
	if want := time.Minute / DefaultPerMinute; l.Interval() != want {
		t.Errorf("Interval() = %v, want %v", l.Interval(), want)
	}
}
