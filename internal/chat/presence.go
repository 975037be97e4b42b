package chat

// PresenceSet is the participant list of a room as last broadcast by the
// server. Every broadcast replaces it; nothing is merged.
type PresenceSet struct {
	self    string
	members []string
}

func NewPresenceSet(self string) *PresenceSet {
	return &PresenceSet{self: self}
}

// Replace installs a new snapshot.
func (p *PresenceSet) Replace(participants []string) {
	p.members = append([]string(nil), participants...)
}

func (p *PresenceSet) Members() []string {
	return append([]string(nil), p.members...)
}

// Labels renders the snapshot, showing the local identity as "you".
func (p *PresenceSet) Labels() []string {
	labels := make([]string, 0, len(p.members))
	for _, m := range p.members {
		if m == p.self {
			labels = append(labels, "you")
			continue
		}
		labels = append(labels, m)
	}
	return labels
}

func (p *PresenceSet) clear() { p.members = nil }
