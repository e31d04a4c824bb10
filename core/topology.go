package core

import (
	"fmt"
	"slices"
)

// Topology is the directed network graph the game is played on, together
// with the per-node infection and quarantine status.
//
// Nodes keep the index they were first added with; that order defines every
// per-node feature vector handed to the agents. Edges are only ever removed
// once a game is running, and the infected set only grows.
//
// A Topology is owned by a single GameEngine and is not safe for concurrent
// mutation.
type Topology struct {
	ids   []string
	index map[string]int

	// out[i] lists the successors of node i in insertion order.
	out [][]int

	infected    []int
	infectedSet []bool
	quarantined []bool
	reachable   []bool

	severed int
}

// NewTopology returns an empty graph.
func NewTopology() *Topology {
	return &Topology{index: make(map[string]int)}
}

// AddNode inserts id if it is not present yet and returns its index.
func (t *Topology) AddNode(id string) int {
	if i, ok := t.index[id]; ok {
		return i
	}
	i := len(t.ids)
	t.ids = append(t.ids, id)
	t.index[id] = i
	t.out = append(t.out, nil)
	t.infectedSet = append(t.infectedSet, false)
	t.quarantined = append(t.quarantined, false)
	t.reachable = append(t.reachable, false)
	return i
}

// AddEdge inserts the directed edge origin -> destination, adding either
// endpoint first if missing. Duplicate edges are ignored.
func (t *Topology) AddEdge(origin, destination string) {
	o := t.AddNode(origin)
	d := t.AddNode(destination)
	if slices.Contains(t.out[o], d) {
		return
	}
	t.out[o] = append(t.out[o], d)
	t.recompute()
}

// NodeCount returns the number of nodes.
func (t *Topology) NodeCount() int { return len(t.ids) }

// NodeID returns the identifier stored at index i.
func (t *Topology) NodeID(i int) string { return t.ids[i] }

// NodeIndex returns the index of id.
func (t *Topology) NodeIndex(id string) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

// Nodes returns all node identifiers in index order.
func (t *Topology) Nodes() []string {
	return append([]string(nil), t.ids...)
}

// EdgeCount returns the number of surviving edges.
func (t *Topology) EdgeCount() int {
	n := 0
	for _, succ := range t.out {
		n += len(succ)
	}
	return n
}

// SeveredEdges returns how many edges quarantine actions have removed.
func (t *Topology) SeveredEdges() int { return t.severed }

// HasEdge reports whether origin -> destination currently exists.
func (t *Topology) HasEdge(origin, destination string) bool {
	o, ok := t.index[origin]
	if !ok {
		return false
	}
	d, ok := t.index[destination]
	if !ok {
		return false
	}
	return slices.Contains(t.out[o], d)
}

// OutNeighbors returns the current successors of id in insertion order.
func (t *Topology) OutNeighbors(id string) []string {
	o, ok := t.index[id]
	if !ok {
		return nil
	}
	res := make([]string, 0, len(t.out[o]))
	for _, d := range t.out[o] {
		res = append(res, t.ids[d])
	}
	return res
}

// OutDegree returns the number of surviving outgoing edges of id.
func (t *Topology) OutDegree(id string) int {
	o, ok := t.index[id]
	if !ok {
		return 0
	}
	return len(t.out[o])
}

// Infect marks id as infected. Infecting an already infected node is a
// no-op.
func (t *Topology) Infect(id string) error {
	i, ok := t.index[id]
	if !ok {
		return fmt.Errorf("infect %q: %w", id, ErrUnknownNode)
	}
	if t.infectedSet[i] {
		return nil
	}
	t.infectedSet[i] = true
	t.infected = append(t.infected, i)
	t.recompute()
	return nil
}

// IsInfected reports whether id is infected.
func (t *Topology) IsInfected(id string) bool {
	i, ok := t.index[id]
	return ok && t.infectedSet[i]
}

// Infected returns infected nodes in the order they were infected.
func (t *Topology) Infected() []string {
	res := make([]string, 0, len(t.infected))
	for _, i := range t.infected {
		res = append(res, t.ids[i])
	}
	return res
}

// InfectedCount returns the size of the infected set.
func (t *Topology) InfectedCount() int { return len(t.infected) }

// Isolate quarantines origin and severs every outgoing edge it has. It
// returns the number of edges removed. The node joins the quarantine set
// only once.
func (t *Topology) Isolate(origin string) (int, error) {
	o, ok := t.index[origin]
	if !ok {
		return 0, fmt.Errorf("isolate %q: %w", origin, ErrUnknownNode)
	}
	t.quarantined[o] = true
	removed := len(t.out[o])
	t.out[o] = nil
	t.severed += removed
	if removed > 0 {
		t.recompute()
	}
	return removed, nil
}

// Sever removes the single edge origin -> destination. It reports whether
// the edge existed.
func (t *Topology) Sever(origin, destination string) bool {
	o, ok := t.index[origin]
	if !ok {
		return false
	}
	d, ok := t.index[destination]
	if !ok {
		return false
	}
	pos := slices.Index(t.out[o], d)
	if pos < 0 {
		return false
	}
	t.out[o] = slices.Delete(t.out[o], pos, pos+1)
	t.severed++
	t.recompute()
	return true
}

// Quarantined reports whether id has been isolated.
func (t *Topology) Quarantined(id string) bool {
	i, ok := t.index[id]
	return ok && t.quarantined[i]
}

// QuarantinedNodes lists isolated nodes in index order.
func (t *Topology) QuarantinedNodes() []string {
	var res []string
	for i, q := range t.quarantined {
		if q {
			res = append(res, t.ids[i])
		}
	}
	return res
}

// IsReachable reports whether id is uninfected and has an incoming edge from
// an infected node.
func (t *Topology) IsReachable(id string) bool {
	i, ok := t.index[id]
	return ok && t.reachable[i]
}

// ReachableVector returns a 0/1 indicator per node index.
func (t *Topology) ReachableVector() []float64 {
	v := make([]float64, len(t.reachable))
	for i, r := range t.reachable {
		if r {
			v[i] = 1
		}
	}
	return v
}

// ReachableIndices returns the indices of reachable nodes in ascending order.
func (t *Topology) ReachableIndices() []int {
	var res []int
	for i, r := range t.reachable {
		if r {
			res = append(res, i)
		}
	}
	return res
}

// ReachableCount returns the number of reachable nodes.
func (t *Topology) ReachableCount() int {
	n := 0
	for _, r := range t.reachable {
		if r {
			n++
		}
	}
	return n
}

// Exhausted reports whether the attacker has nowhere left to spread.
func (t *Topology) Exhausted() bool {
	return t.ReachableCount() == 0
}

// Potential is the reward scale of attacking id: the number of successors
// of id that are neither infected nor currently reachable, i.e. the nodes an
// infection of id would newly expose. Infected nodes, sinks and unknown ids
// get the floor.
func (t *Topology) Potential(id string, floor float64) float64 {
	i, ok := t.index[id]
	if !ok || t.infectedSet[i] {
		return floor
	}
	exposed := 0
	for _, d := range t.out[i] {
		if !t.infectedSet[d] && !t.reachable[d] {
			exposed++
		}
	}
	return max(floor, float64(exposed))
}

// PotentialVector returns Potential for every node index.
func (t *Topology) PotentialVector(floor float64) []float64 {
	v := make([]float64, len(t.ids))
	for i, id := range t.ids {
		v[i] = t.Potential(id, floor)
	}
	return v
}

// Color is the derived display color of a node.
func (t *Topology) Color(id string) string {
	i, ok := t.index[id]
	switch {
	case !ok:
		return "gray"
	case t.infectedSet[i]:
		return "red"
	case t.quarantined[i]:
		return "orange"
	case t.reachable[i]:
		return "yellow"
	default:
		return "blue"
	}
}

// Clone returns an independent deep copy.
func (t *Topology) Clone() *Topology {
	c := &Topology{
		ids:         append([]string(nil), t.ids...),
		index:       make(map[string]int, len(t.index)),
		out:         make([][]int, len(t.out)),
		infected:    append([]int(nil), t.infected...),
		infectedSet: append([]bool(nil), t.infectedSet...),
		quarantined: append([]bool(nil), t.quarantined...),
		reachable:   append([]bool(nil), t.reachable...),
		severed:     t.severed,
	}
	for id, i := range t.index {
		c.index[id] = i
	}
	for i, succ := range t.out {
		c.out[i] = append([]int(nil), succ...)
	}
	return c
}

// recompute rebuilds the reachable view from the current edges and infected
// set. Every mutator calls it, so the view is never stale.
func (t *Topology) recompute() {
	for i := range t.reachable {
		t.reachable[i] = false
	}
	for _, src := range t.infected {
		for _, d := range t.out[src] {
			if !t.infectedSet[d] {
				t.reachable[d] = true
			}
		}
	}
}
