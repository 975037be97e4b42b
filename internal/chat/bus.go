package chat

// Handler reacts to one inbound event.
type Handler func(Event)

// bus routes inbound events to the listeners registered for their type.
// Listeners are removed through the func returned by on.
type bus struct {
	next      int
	listeners map[EventType]map[int]Handler
}

func newBus() *bus {
	return &bus{listeners: make(map[EventType]map[int]Handler)}
}

func (b *bus) on(t EventType, h Handler) (off func()) {
	id := b.next
	b.next++
	if b.listeners[t] == nil {
		b.listeners[t] = make(map[int]Handler)
	}
	b.listeners[t][id] = h
	return func() {
		set := b.listeners[t]
		delete(set, id)
		if len(set) == 0 {
			delete(b.listeners, t)
		}
	}
}

// dispatch runs the listeners for ev and reports whether any ran.
func (b *bus) dispatch(ev Event) bool {
	set := b.listeners[ev.Type()]
	for _, h := range set {
		h(ev)
	}
	return len(set) > 0
}

func (b *bus) size() int {
	n := 0
	for _, set := range b.listeners {
		n += len(set)
	}
	return n
}
