package chat

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func liveMsg(id, sender, body, display string) MessageEvent {
	return MessageEvent{ID: id, Channel: "a@x_b@x", Kind: KindDirect, Sender: sender, Body: body, DisplayTime: display}
}

func TestMergerHistoryThenLive(t *testing.T) {
	m := NewMerger("a@x")
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	history := []MessageEvent{
		{ID: "h3", Channel: "c", Sender: "b@x", Body: "third", CreatedAt: base.Add(3 * time.Minute)},
		{ID: "h1", Channel: "c", Sender: "a@x", Body: "first", CreatedAt: base.Add(1 * time.Minute)},
		{ID: "h2", Channel: "c", Sender: "b@x", Body: "second", CreatedAt: base.Add(2 * time.Minute)},
	}
	m.BeginHistory()
	m.ApplyHistory(history, nil)
	for i := 0; i < 3; i++ {
		if !m.Append(liveMsg(fmt.Sprintf("l%d", i), "b@x", fmt.Sprintf("live %d", i), "9:10 AM")) {
			t.Fatalf("live %d rejected", i)
		}
	}

	got := m.Messages()
	want := []string{"h1", "h2", "h3", "l0", "l1", "l2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
	if !got[0].IsOwn || got[1].IsOwn {
		t.Fatalf("IsOwn should follow the sender: %+v", got[:2])
	}
	if m.HistoryState() != HistoryLoaded {
		t.Fatalf("state = %v", m.HistoryState())
	}
}

func TestMergerDropsRedelivery(t *testing.T) {
	m := NewMerger("a@x")
	ev := liveMsg("m1", "b@x", "hello", "3:04 PM")
	if !m.Append(ev) {
		t.Fatalf("first delivery rejected")
	}
	if m.Append(ev) {
		t.Fatalf("redelivery accepted")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", m.Len())
	}
}

func TestMergerDedupWithoutIDs(t *testing.T) {
	m := NewMerger("a@x")
	m.Append(liveMsg("", "b@x", "hello", "3:04 PM"))
	m.Append(liveMsg("", "b@x", "hello", "3:04 PM"))
	m.Append(liveMsg("m9", "b@x", "hello", "3:04 PM"))
	if m.Len() != 1 {
		t.Fatalf("expected triple match to collapse, got %d", m.Len())
	}
	m.Append(liveMsg("", "b@x", "hello", "3:05 PM"))
	m.Append(liveMsg("", "a@x", "hello", "3:04 PM"))
	if m.Len() != 3 {
		t.Fatalf("expected distinct time or sender to survive, got %d", m.Len())
	}
}

func TestMergerKeepsDistinctServerIDs(t *testing.T) {
	m := NewMerger("a@x")
	m.Append(liveMsg("m1", "b@x", "ok", "3:04 PM"))
	m.Append(liveMsg("m2", "b@x", "ok", "3:04 PM"))
	if m.Len() != 2 {
		t.Fatalf("two server messages with the same text should both render, got %d", m.Len())
	}
}

func TestMergerLateHistoryAbsorbsLiveCopies(t *testing.T) {
	m := NewMerger("a@x")
	m.BeginHistory()
	m.Append(liveMsg("m2", "b@x", "arrived live", "9:02 AM"))
	m.Append(liveMsg("m3", "b@x", "only live", "9:03 AM"))
	m.ApplyHistory([]MessageEvent{
		{ID: "m1", Channel: "c", Sender: "a@x", Body: "old"},
		{ID: "m2", Channel: "c", Sender: "b@x", Body: "arrived live"},
	}, nil)
	got := m.Messages()
	if len(got) != 3 || got[0].ID != "m1" || got[1].ID != "m2" || got[2].ID != "m3" {
		t.Fatalf("unexpected order after late history: %+v", got)
	}
}

func TestMergerHistoryFailure(t *testing.T) {
	m := NewMerger("a@x")
	m.BeginHistory()
	fail := errors.New("boom")
	m.ApplyHistory(nil, fail)
	if m.HistoryState() != HistoryFailed || !errors.Is(m.HistoryErr(), fail) {
		t.Fatalf("expected failed state with error, got %v %v", m.HistoryState(), m.HistoryErr())
	}
	if !m.Append(liveMsg("m1", "b@x", "still live", "1:00 PM")) {
		t.Fatalf("live messages must still merge after a failed fetch")
	}
	m.BeginHistory()
	if m.HistoryState() != HistoryLoading || m.HistoryErr() != nil {
		t.Fatalf("retry should reset the error")
	}
}
