package domain

import "time"

// NodeStaleAfter is how long a node may go without a heartbeat before it is
// excluded from selection.
const NodeStaleAfter = 60 * time.Second

// Node is a worker registry entry.
type Node struct {
	ID            string    `json:"node_id"`
	Capacity      int       `json:"capacity"`
	Capabilities  []string  `json:"capabilities"`
	CurrentLoad   int       `json:"current_load"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Healthy       bool      `json:"is_healthy"`
}

// Available reports whether the node can take more work at now.
func (n Node) Available(now time.Time, staleAfter time.Duration) bool {
	return n.Healthy && now.Sub(n.LastHeartbeat) < staleAfter && n.CurrentLoad < n.Capacity
}

// Supports reports whether the node's capabilities are a superset of required.
func (n Node) Supports(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(n.Capabilities))
	for _, c := range n.Capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// SpareCapacity is capacity minus load, never below zero.
func (n Node) SpareCapacity() int {
	if spare := n.Capacity - n.CurrentLoad; spare > 0 {
		return spare
	}
	return 0
}
