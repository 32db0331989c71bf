package poll

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
)

// fakeSource is a Source whose readiness is set directly by the test.
type fakeSource struct {
	mu    sync.Mutex
	ready Interest
	wake  func()

	// readyAt makes write readiness appear at a point in time without a wake.
	readyAt time.Time
}

func (s *fakeSource) Ready() Interest {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ready
	if !s.readyAt.IsZero() && !time.Now().Before(s.readyAt) {
		r |= InterestWrite
	}
	return r
}

func (s *fakeSource) Attach(wake func()) {
	s.mu.Lock()
	s.wake = wake
	s.mu.Unlock()
}

func (s *fakeSource) set(r Interest) {
	s.mu.Lock()
	s.ready = r
	wake := s.wake
	s.mu.Unlock()
	if wake != nil {
		wake()
	}
}

func (s *fakeSource) attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wake != nil
}

func TestInterestString(t *testing.T) {
	tests := []struct {
		in   Interest
		want string
	}{
		{0, "None"},
		{InterestRead, "Read"},
		{InterestConnect | InterestRead, "Connect|Read"},
		{InterestConnect | InterestRead | InterestWrite, "Connect|Read|Write"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("Interest(%d).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
	if !(InterestRead | InterestWrite).Has(InterestWrite) {
		t.Error("Has(Write) = false")
	}
	if InterestRead.Has(0) {
		t.Error("Has(0) = true")
	}
}

func TestRegister(t *testing.T) {
	p := New(Config{})
	defer p.Close()

	src := &fakeSource{}
	if err := p.Register(src, InterestRead); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !src.attached() {
		t.Error("Register() did not attach wake function")
	}
	if err := p.Register(src, InterestRead); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Register() twice error = %v, want %v", err, ErrAlreadyRegistered)
	}
	if err := p.Register(nil, InterestRead); !errors.Is(err, ErrNilSource) {
		t.Errorf("Register(nil) error = %v, want %v", err, ErrNilSource)
	}

	if err := p.Modify(src, InterestRead|InterestWrite); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	if got, _ := p.Interest(src); got != InterestRead|InterestWrite {
		t.Errorf("Interest() = %v, want Read|Write", got)
	}

	if err := p.Unregister(src); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if src.attached() {
		t.Error("Unregister() left wake function attached")
	}
	if err := p.Unregister(src); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Unregister() twice error = %v, want %v", err, ErrNotRegistered)
	}
	if err := p.Modify(src, InterestRead); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Modify() unknown error = %v, want %v", err, ErrNotRegistered)
	}
}

func TestPoll_Timeout(t *testing.T) {
	p := New(Config{})
	defer p.Close()

	src := &fakeSource{}
	if err := p.Register(src, InterestRead); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	events, err := p.Poll(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Poll() events = %d, want 0", len(events))
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Poll() returned after %v, want >= 20ms", elapsed)
	}
}

func TestPoll_ReadyImmediately(t *testing.T) {
	p := New(Config{})
	defer p.Close()

	a, b := &fakeSource{}, &fakeSource{}
	_ = p.Register(a, InterestRead)
	_ = p.Register(b, InterestConnect)
	a.set(InterestRead | InterestWrite)
	b.set(InterestRead)

	events, err := p.Poll(time.Second)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Poll() events = %d, want 1", len(events))
	}
	if events[0].Source != a || events[0].Ready != InterestRead {
		t.Errorf("Poll() event = %+v, want a with Read only", events[0])
	}
}

func TestPoll_WakeFromPump(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	p := New(Config{})
	defer p.Close()

	src := &fakeSource{}
	_ = p.Register(src, InterestRead)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		src.set(InterestRead)
	}()

	start := time.Now()
	events, err := p.Poll(5 * time.Second)
	wg.Wait()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Poll() events = %d, want 1", len(events))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Poll() took %v, wake not delivered", elapsed)
	}
}

func TestPoll_WriteRecheck(t *testing.T) {
	p := New(Config{WriteRecheck: 2 * time.Millisecond})
	defer p.Close()

	// Write readiness appears without a wake; only the recheck finds it.
	src := &fakeSource{readyAt: time.Now().Add(15 * time.Millisecond)}
	_ = p.Register(src, InterestRead|InterestWrite)

	start := time.Now()
	events, err := p.Poll(5 * time.Second)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(events) != 1 || events[0].Ready != InterestWrite {
		t.Fatalf("Poll() events = %+v, want one Write event", events)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Poll() took %v, recheck not applied", elapsed)
	}
}

func TestPoll_Close(t *testing.T) {
	p := New(Config{})
	src := &fakeSource{}
	_ = p.Register(src, InterestRead)

	done := make(chan error, 1)
	go func() {
		_, err := p.Poll(5 * time.Second)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Poll() error = %v, want %v", err, ErrClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("Poll() did not return after Close()")
	}
	if src.attached() {
		t.Error("Close() left wake function attached")
	}
	if err := p.Register(&fakeSource{}, InterestRead); !errors.Is(err, ErrClosed) {
		t.Errorf("Register() after Close error = %v, want %v", err, ErrClosed)
	}
}
