package ping

import (
	"errors"
	"testing"
	"time"
)

type countingSender struct {
	n   int
	err error
}

func (s *countingSender) Ping() error {
	s.n++
	return s.err
}

func TestIntervals(t *testing.T) {
	tests := []struct {
		timeout     time.Duration
		wantSend    time.Duration
		wantReceive time.Duration
	}{
		{60 * time.Second, 20 * time.Second, 60 * time.Second},
		{10 * time.Second, 3 * time.Second, 10 * time.Second},
		{4 * time.Second, time.Second, 4 * time.Second},
		{3 * time.Second, time.Second, 3 * time.Second},
		{5 * time.Second, time.Second, 5 * time.Second},
		{2 * time.Second, 0, 2 * time.Second},
		{1500 * time.Millisecond, 0, 1500 * time.Millisecond},
		{3 * time.Millisecond, 0, 3 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.timeout.String(), func(t *testing.T) {
			send, recv := Intervals(tt.timeout)
			if send != tt.wantSend || recv != tt.wantReceive {
				t.Errorf("Intervals(%s) = %s, %s, want %s, %s",
					tt.timeout, send, recv, tt.wantSend, tt.wantReceive)
			}
		})
	}
}

func TestMonitor_ShortTimeoutSendInterval(t *testing.T) {
	now := time.Unix(1000, 0)

	t.Run("clamped to the poll tick", func(t *testing.T) {
		m := New(Config{Sender: &countingSender{}, MinSendInterval: time.Second})
		if err := m.Start(2*time.Second, now); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if got := m.Deadlines().NextSend; !got.Equal(now.Add(time.Second)) {
			t.Errorf("NextSend = now+%v, want now+1s", got.Sub(now))
		}
	})

	t.Run("every tick without a floor", func(t *testing.T) {
		s := &countingSender{}
		m := New(Config{Sender: s})
		if err := m.Start(2*time.Second, now); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		for i := 0; i < 3; i++ {
			m.Received()
			if err := m.Tick(now.Add(time.Duration(i) * 100 * time.Millisecond)); err != nil {
				t.Fatalf("Tick() #%d error = %v", i+1, err)
			}
		}
		if s.n != 3 {
			t.Errorf("heartbeats sent = %d, want 3", s.n)
		}
	})
}

func TestMonitor_StartDeadlines(t *testing.T) {
	m := New(Config{Sender: &countingSender{}})
	now := time.Unix(1000, 0)
	if err := m.Start(60*time.Second, now); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	d := m.Deadlines()
	if !d.NextSend.Equal(now.Add(20 * time.Second)) {
		t.Errorf("NextSend = %v, want now+20s", d.NextSend.Sub(now))
	}
	if !d.NextReceive.Equal(now.Add(60 * time.Second)) {
		t.Errorf("NextReceive = %v, want now+60s", d.NextReceive.Sub(now))
	}
	if d.Received {
		t.Error("Received = true right after Start")
	}
	if got := m.NextDeadline(); !got.Equal(d.NextSend) {
		t.Errorf("NextDeadline() = %v, want send deadline", got)
	}
}

func TestMonitor_StartInvalid(t *testing.T) {
	m := New(Config{Sender: &countingSender{}})
	if err := m.Start(0, time.Now()); !errors.Is(err, ErrInvalidTimeout) {
		t.Errorf("Start(0) error = %v, want %v", err, ErrInvalidTimeout)
	}
	if err := m.Tick(time.Now()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Tick() before Start error = %v, want %v", err, ErrNotStarted)
	}
}

func TestMonitor_SendSchedule(t *testing.T) {
	s := &countingSender{}
	m := New(Config{Sender: s})
	now := time.Unix(0, 0)
	_ = m.Start(9*time.Second, now)

	steps := []struct {
		at       time.Duration
		receive  bool
		wantSent int
	}{
		{1 * time.Second, false, 0},
		{3 * time.Second, false, 1},
		{4 * time.Second, true, 1},
		{5 * time.Second, false, 1},
		{6 * time.Second, false, 2},
		{7 * time.Second, false, 2},
		{8 * time.Second, true, 2},
	}
	for _, st := range steps {
		if st.receive {
			m.Received()
		}
		if err := m.Tick(now.Add(st.at)); err != nil {
			t.Fatalf("Tick(+%s) error = %v", st.at, err)
		}
		if s.n != st.wantSent {
			t.Errorf("after Tick(+%s) sent = %d, want %d", st.at, s.n, st.wantSent)
		}
	}
	if m.Stats().Sent != 2 {
		t.Errorf("Stats().Sent = %d, want 2", m.Stats().Sent)
	}
}

func TestMonitor_ReceivedFlag(t *testing.T) {
	m := New(Config{Sender: &countingSender{}})
	now := time.Unix(0, 0)
	_ = m.Start(3*time.Second, now)

	// Traffic before the deadline carries over to the evaluation.
	m.Received()
	if err := m.Tick(now.Add(3 * time.Second)); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if m.Deadlines().Received {
		t.Error("Received flag not cleared by the receive evaluation")
	}
	if got := m.Deadlines().NextReceive; !got.Equal(now.Add(6 * time.Second)) {
		t.Errorf("NextReceive = +%s, want +6s", got.Sub(now))
	}

	// Traffic between evaluations is remembered across ticks that do not
	// reach the receive deadline.
	m.Received()
	if err := m.Tick(now.Add(4 * time.Second)); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !m.Deadlines().Received {
		t.Error("Received flag cleared before the receive deadline")
	}
	if err := m.Tick(now.Add(6 * time.Second)); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	// Nothing since the last evaluation.
	err := m.Tick(now.Add(9 * time.Second))
	if !errors.Is(err, ErrLivenessTimeout) {
		t.Errorf("Tick() error = %v, want %v", err, ErrLivenessTimeout)
	}
}

func TestMonitor_LivenessTimeout(t *testing.T) {
	s := &countingSender{}
	m := New(Config{Sender: s})
	now := time.Unix(0, 0)
	_ = m.Start(60*time.Second, now)

	for _, at := range []time.Duration{20 * time.Second, 40 * time.Second} {
		if err := m.Tick(now.Add(at)); err != nil {
			t.Fatalf("Tick(+%s) error = %v", at, err)
		}
	}
	err := m.Tick(now.Add(61 * time.Second))
	if !errors.Is(err, ErrLivenessTimeout) {
		t.Errorf("Tick(+61s) error = %v, want %v", err, ErrLivenessTimeout)
	}
	if s.n != 3 {
		t.Errorf("heartbeats sent = %d, want 3", s.n)
	}
}

func TestMonitor_SendError(t *testing.T) {
	sendErr := errors.New("flush failed")
	m := New(Config{Sender: &countingSender{err: sendErr}})
	now := time.Unix(0, 0)
	_ = m.Start(3*time.Second, now)

	if err := m.Tick(now.Add(time.Second)); !errors.Is(err, sendErr) {
		t.Errorf("Tick() error = %v, want %v", err, sendErr)
	}
}
