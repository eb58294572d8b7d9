// Package constellation projects the registry and live service status into
// a dependency graph for rendering.
package constellation

import (
	"time"

	"workshop/internal/registry"
	"workshop/internal/service"
)

// EdgeHard marks a start-order dependency
const EdgeHard = "hard"

// Node is one service in the graph
type Node struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Group             string         `json:"group"`
	Description       string         `json:"description,omitempty"`
	Port              int            `json:"port,omitempty"`
	Status            service.Status `json:"status"`
	Ghost             bool           `json:"ghost"`
	GhostETA          string         `json:"ghostEta,omitempty"`
	Dependents        int            `json:"dependents"`
	NeedsIntervention bool           `json:"needsIntervention"`
}

// Edge points from a dependency to the service that depends on it
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Stats counts nodes by status
type Stats struct {
	Total             int                    `json:"total"`
	Ghosts            int                    `json:"ghosts"`
	NeedsIntervention int                    `json:"needsIntervention"`
	ByStatus          map[service.Status]int `json:"byStatus"`
}

// Graph is an immutable snapshot
type Graph struct {
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Stats       Stats     `json:"stats"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Node returns the node for id
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// StatusSource supplies live service state
type StatusSource interface {
	Statuses() map[string]service.State
}

// Builder derives snapshots. It holds no state of its own.
type Builder struct {
	reg    *registry.Registry
	status StatusSource
	now    func() time.Time
}

// NewBuilder creates a graph builder
func NewBuilder(reg *registry.Registry, status StatusSource) *Builder {
	return &Builder{reg: reg, status: status, now: time.Now}
}

// Snapshot builds the graph from the registry and the statuses at the
// instant of the call
func (b *Builder) Snapshot() Graph {
	states := b.status.Statuses()
	services := b.reg.Services()

	g := Graph{
		Nodes:       make([]Node, 0, len(services)),
		Edges:       make([]Edge, 0),
		GeneratedAt: b.now().UTC(),
		Stats:       Stats{ByStatus: make(map[service.Status]int)},
	}

	for _, svc := range services {
		st, ok := states[svc.ID]
		if !ok {
			st = service.State{ID: svc.ID, Status: service.StatusUnknown}
		}

		g.Nodes = append(g.Nodes, Node{
			ID:                svc.ID,
			Name:              svc.Name,
			Group:             svc.Group,
			Description:       svc.Description,
			Port:              svc.Port,
			Status:            st.Status,
			Ghost:             svc.Ghost,
			GhostETA:          svc.GhostETA,
			Dependents:        len(b.reg.DirectDependents(svc.ID)),
			NeedsIntervention: st.NeedsIntervention,
		})

		g.Stats.Total++
		g.Stats.ByStatus[st.Status]++
		if svc.Ghost {
			g.Stats.Ghosts++
		}
		if st.NeedsIntervention {
			g.Stats.NeedsIntervention++
		}
	}

	for _, e := range b.reg.Edges() {
		g.Edges = append(g.Edges, Edge{Source: e.From, Target: e.To, Type: EdgeHard})
	}
	return g
}
