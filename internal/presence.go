package internal

// Roster counts the live connections of each identity in one room. An
// identity with several connections is listed once, in the order it first
// joined. A Roster is owned by its room's run goroutine.
type Roster struct {
	order  []string
	counts map[string]int
}

func NewRoster() *Roster {
	return &Roster{counts: make(map[string]int)}
}

// Add records a connection and reports whether the identity is new.
func (r *Roster) Add(identity string) bool {
	r.counts[identity]++
	if r.counts[identity] == 1 {
		r.order = append(r.order, identity)
		return true
	}
	return false
}

// Remove drops a connection and reports whether the identity left entirely.
func (r *Roster) Remove(identity string) bool {
	count, ok := r.counts[identity]
	if !ok {
		return false
	}
	if count > 1 {
		r.counts[identity] = count - 1
		return false
	}
	delete(r.counts, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Participants returns a copy of the identities in first-join order.
func (r *Roster) Participants() []string {
	return append([]string{}, r.order...)
}

func (r *Roster) Len() int { return len(r.order) }
