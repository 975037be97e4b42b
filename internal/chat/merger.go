package chat

import "sort"

// HistoryState tracks the one-time history fetch of a channel view.
type HistoryState int

const (
	HistoryIdle HistoryState = iota
	HistoryLoading
	HistoryLoaded
	HistoryFailed
)

func (s HistoryState) String() string {
	switch s {
	case HistoryLoading:
		return "loading"
	case HistoryLoaded:
		return "loaded"
	case HistoryFailed:
		return "failed"
	}
	return "idle"
}

// Merger combines the history snapshot with live messages. History always
// renders first, sorted by creation time; live messages follow in arrival
// order. Nothing is ever rendered twice.
type Merger struct {
	self    string
	history []Message
	live    []Message
	state   HistoryState
	err     error
}

func NewMerger(self string) *Merger {
	return &Merger{self: self}
}

// BeginHistory marks a (re)fetch as in flight.
func (m *Merger) BeginHistory() {
	m.state = HistoryLoading
	m.err = nil
}

// ApplyHistory installs the fetched snapshot. On error the previous snapshot,
// if any, is kept and the state becomes HistoryFailed.
func (m *Merger) ApplyHistory(entries []MessageEvent, err error) {
	if err != nil {
		m.state = HistoryFailed
		m.err = err
		return
	}
	history := make([]Message, 0, len(entries))
	for _, entry := range entries {
		history = append(history, messageFromEvent(entry, m.self))
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	m.history = history

	kept := m.live[:0]
	for _, msg := range m.live {
		if !containsMessage(history, msg) {
			kept = append(kept, msg)
		}
	}
	m.live = kept
	m.state = HistoryLoaded
	m.err = nil
}

// Append adds a live message unless a copy is already held. It reports
// whether the message was added.
func (m *Merger) Append(ev MessageEvent) bool {
	candidate := messageFromEvent(ev, m.self)
	if containsMessage(m.history, candidate) || containsMessage(m.live, candidate) {
		return false
	}
	m.live = append(m.live, candidate)
	return true
}

// Messages returns the rendered sequence.
func (m *Merger) Messages() []Message {
	out := make([]Message, 0, len(m.history)+len(m.live))
	out = append(out, m.history...)
	return append(out, m.live...)
}

func (m *Merger) Len() int { return len(m.history) + len(m.live) }

func (m *Merger) HistoryState() HistoryState { return m.state }

// HistoryErr is the error of the last failed fetch.
func (m *Merger) HistoryErr() error { return m.err }

// Reset drops every message; used on teardown.
func (m *Merger) Reset() {
	m.history = nil
	m.live = nil
	m.state = HistoryIdle
	m.err = nil
}

func containsMessage(list []Message, msg Message) bool {
	for i := range list {
		if sameMessage(list[i], msg) {
			return true
		}
	}
	return false
}
