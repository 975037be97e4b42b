package chat

import "time"

const (
	// TypingDebounce is how long after the last keystroke the local side stays
	// in the typing state.
	TypingDebounce = 1000 * time.Millisecond
	// RemoteTypingTTL clears a peer's typing flag when its stop event never
	// arrives.
	RemoteTypingTTL = 5000 * time.Millisecond
)

// TimerKind tells the session which timer expired.
type TimerKind int

const (
	TimerSelfTyping TimerKind = iota + 1
	TimerRemoteTyping
)

// Timer is a pending expiry created by a Scheduler.
type Timer interface {
	Stop() bool
}

// Scheduler arms timers. When one fires, the runtime must hand the tag back to
// Session.Expire on the event loop, never from another goroutine.
type Scheduler interface {
	After(d time.Duration, kind TimerKind, tag uint64) Timer
}

// typingTimer holds one debounce timer and the generation it was armed for.
// An expiry whose tag does not match the current generation is stale.
type typingTimer struct {
	sched Scheduler
	kind  TimerKind
	d     time.Duration
	gen   uint64
	timer Timer
}

func (t *typingTimer) arm() {
	t.stop()
	t.gen++
	t.timer = t.sched.After(t.d, t.kind, t.gen)
}

func (t *typingTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// fired reports whether tag is the live generation and consumes it.
func (t *typingTimer) fired(tag uint64) bool {
	if t.timer == nil || tag != t.gen {
		return false
	}
	t.timer = nil
	return true
}

// TypingState is the local Idle/Typing machine. It returns what to emit and
// leaves the emitting to the session.
type TypingState struct {
	typing bool
	timer  typingTimer
}

func newTypingState(sched Scheduler) *TypingState {
	return &TypingState{timer: typingTimer{sched: sched, kind: TimerSelfTyping, d: TypingDebounce}}
}

// Keystroke moves to Typing and re-arms the debounce. started is true only on
// the Idle to Typing transition.
func (s *TypingState) Keystroke() (started bool) {
	started = !s.typing
	s.typing = true
	s.timer.arm()
	return started
}

// Expire handles a fired debounce timer. stopped is true when the machine went
// back to Idle and a stop event is due.
func (s *TypingState) Expire(tag uint64) (stopped bool) {
	if !s.timer.fired(tag) || !s.typing {
		return false
	}
	s.typing = false
	return true
}

// Force returns to Idle right away, for a send or a teardown. stopped is true
// when the machine was typing.
func (s *TypingState) Force() (stopped bool) {
	s.timer.stop()
	stopped = s.typing
	s.typing = false
	return stopped
}

func (s *TypingState) Typing() bool { return s.typing }

// remoteTyping is the peer's flag on a direct channel.
type remoteTyping struct {
	typing bool
	name   string
	timer  typingTimer
}

func newRemoteTyping(sched Scheduler) *remoteTyping {
	return &remoteTyping{timer: typingTimer{sched: sched, kind: TimerRemoteTyping, d: RemoteTypingTTL}}
}

func (r *remoteTyping) start(name string) {
	r.typing = true
	r.name = name
	r.timer.arm()
}

func (r *remoteTyping) clear() {
	r.timer.stop()
	r.typing = false
}

func (r *remoteTyping) expire(tag uint64) bool {
	if !r.timer.fired(tag) {
		return false
	}
	r.typing = false
	return true
}
