// Package domain holds the core orchestration types.
// A Module is an autonomous worker that advertises capability tags and
// executes assigned tasks: register → heartbeat → assign → report outcome.
package domain

import (
	"sort"
	"time"
)

// ModuleStatus tracks a module's lifecycle within the registry.
type ModuleStatus string

const (
	ModuleRegistered ModuleStatus = "REGISTERED" // registered, never assigned
	ModuleActive     ModuleStatus = "ACTIVE"     // holds at least one assigned task
	ModuleIdle       ModuleStatus = "IDLE"       // no assigned tasks
	ModuleError      ModuleStatus = "ERROR"      // failed or missed heartbeats; needs reset
	ModuleEvolving   ModuleStatus = "EVOLVING"   // self-reported retraining; excluded from matching
)

// Module is a registered worker in the network.
type Module struct {
	ID            string       `json:"id"`
	Capabilities  []string     `json:"capabilities"`
	Status        ModuleStatus `json:"status"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Score         float64      `json:"score"`
}

// HasCapabilities reports whether the module's capability set is a
// superset of the required tags.
func (m *Module) HasCapabilities(required []string) bool {
	for _, tag := range required {
		found := false
		for _, cap := range m.Capabilities {
			if cap == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Assignable reports whether the module may receive new tasks.
// Error modules stay excluded until an explicit reset; Evolving modules
// opted out themselves.
func (m *Module) Assignable() bool {
	return m.Status != ModuleError && m.Status != ModuleEvolving
}

// HeartbeatAge returns how long ago the module last reported in.
func (m *Module) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(m.LastHeartbeat)
}

// SameCapabilities compares two capability sets ignoring order and duplicates.
func SameCapabilities(a, b []string) bool {
	return capKey(a) == capKey(b)
}

func capKey(caps []string) string {
	dedup := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		dedup[c] = struct{}{}
	}
	keys := make([]string, 0, len(dedup))
	for c := range dedup {
		keys = append(keys, c)
	}
	sort.Strings(keys)
	key := ""
	for _, c := range keys {
		key += c + "\x00"
	}
	return key
}
