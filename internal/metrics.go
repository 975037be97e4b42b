package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics holds the server counters exposed on /metrics.
type Metrics struct {
	signups     atomic.Uint64
	logins      atomic.Uint64
	messages    atomic.Uint64
	rateLimited atomic.Uint64
	activeConns atomic.Int64
	activeRooms atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSignup()      { m.signups.Add(1) }
func (m *Metrics) IncLogin()       { m.logins.Add(1) }
func (m *Metrics) IncMessage()     { m.messages.Add(1) }
func (m *Metrics) IncRateLimited() { m.rateLimited.Add(1) }
func (m *Metrics) IncConn()        { m.activeConns.Add(1) }
func (m *Metrics) DecConn()        { m.activeConns.Add(-1) }
func (m *Metrics) IncRoom()        { m.activeRooms.Add(1) }
func (m *Metrics) DecRoom()        { m.activeRooms.Add(-1) }

// Snapshot returns the counters keyed by their exported name.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"signups_total":      m.signups.Load(),
		"logins_total":       m.logins.Load(),
		"messages_total":     m.messages.Load(),
		"rate_limited_total": m.rateLimited.Load(),
		"active_connections": m.activeConns.Load(),
		"active_channels":    m.activeRooms.Load(),
	}
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
