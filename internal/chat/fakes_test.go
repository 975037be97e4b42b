package chat

import (
	"errors"
	"time"
)

type fakeTransport struct {
	emitted []Event
	emitErr error
	closed  int
}

func (f *fakeTransport) Emit(ev Event) error {
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, ev)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed++
	return nil
}

func (f *fakeTransport) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range f.emitted {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeTransport) dial() DialFunc {
	return func(Channel) (Transport, error) { return f, nil }
}

type fakeTimer struct {
	kind    TimerKind
	tag     uint64
	d       time.Duration
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) After(d time.Duration, kind TimerKind, tag uint64) Timer {
	t := &fakeTimer{kind: kind, tag: tag, d: d}
	s.timers = append(s.timers, t)
	return t
}

// pending returns the timers of kind that were never stopped.
func (s *fakeScheduler) pending(kind TimerKind) []*fakeTimer {
	var out []*fakeTimer
	for _, t := range s.timers {
		if t.kind == kind && !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

var errDial = errors.New("dial refused")

var fixedNow = time.Date(2024, 3, 9, 15, 4, 0, 0, time.Local)

func newTestSession(ch Channel, sched Scheduler) *Session {
	return NewSession(Config{
		Channel:   ch,
		Self:      Identity{ID: "a@x", DisplayName: "Alice", Authenticated: true},
		Scheduler: sched,
		Now:       func() time.Time { return fixedNow },
	})
}

// openConnected returns a direct session that is open and joined.
func openConnected(sched Scheduler) (*Session, *fakeTransport) {
	tr := &fakeTransport{}
	s := newTestSession(DirectChannel("a@x", "b@x", "Bob"), sched)
	if err := s.Open(tr.dial()); err != nil {
		panic(err)
	}
	s.Dispatch(Connected{})
	return s, tr
}
