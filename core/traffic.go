package core

import (
	"fmt"
	"math/rand"

	"github.com/signalsfoundry/intrusion-game/model"
)

// TrafficSource is the read side of a dataset the generator samples from.
type TrafficSource interface {
	Len() int
	Row(i int) model.Message
}

// QueuedMessage is one entry of a per-node traffic queue. Attack marks the
// message the attacker injected this turn.
type QueuedMessage struct {
	Message model.Message
	Attack  bool
}

// TrafficQueues holds one ordered queue per destination node, indexed like
// the topology the queues were built from.
type TrafficQueues struct {
	byNode [][]QueuedMessage
}

// NewTrafficQueues returns empty queues for nodeCount nodes.
func NewTrafficQueues(nodeCount int) *TrafficQueues {
	return &TrafficQueues{byNode: make([][]QueuedMessage, nodeCount)}
}

// NodeCount returns the number of per-node queues.
func (q *TrafficQueues) NodeCount() int { return len(q.byNode) }

// Queue returns the queue of node index i. Callers must not modify it.
func (q *TrafficQueues) Queue(i int) []QueuedMessage { return q.byNode[i] }

// Len returns the length of the queue of node index i.
func (q *TrafficQueues) Len(i int) int { return len(q.byNode[i]) }

// Total returns the number of queued messages across all nodes.
func (q *TrafficQueues) Total() int {
	n := 0
	for _, queue := range q.byNode {
		n += len(queue)
	}
	return n
}

// Flow returns the queue length of every node, as fed to the attacker.
func (q *TrafficQueues) Flow() []float64 {
	v := make([]float64, len(q.byNode))
	for i, queue := range q.byNode {
		v[i] = float64(len(queue))
	}
	return v
}

func (q *TrafficQueues) push(dest int, msg QueuedMessage) {
	q.byNode[dest] = append(q.byNode[dest], msg)
}

// InsertAt places msg at position pos of node dest's queue, shifting later
// entries back. pos is clamped to [0, len].
func (q *TrafficQueues) InsertAt(dest, pos int, msg QueuedMessage) {
	queue := q.byNode[dest]
	pos = max(0, min(pos, len(queue)))
	queue = append(queue, QueuedMessage{})
	copy(queue[pos+1:], queue[pos:])
	queue[pos] = msg
	q.byNode[dest] = queue
}

// InsertAttack places the attack message at a uniformly random position of
// its destination's queue and returns that position.
func (q *TrafficQueues) InsertAttack(topo *Topology, msg model.Message, rng *rand.Rand) (int, error) {
	dest, ok := topo.NodeIndex(msg.Destination)
	if !ok {
		return 0, fmt.Errorf("attack destination %q: %w", msg.Destination, ErrUnknownNode)
	}
	pos := rng.Intn(len(q.byNode[dest]) + 1)
	q.InsertAt(dest, pos, QueuedMessage{Message: msg, Attack: true})
	return pos, nil
}

// TrafficGenerator samples the background traffic of a turn.
type TrafficGenerator struct {
	source        TrafficSource
	maxBackground int
}

// NewTrafficGenerator wraps a non-empty source. maxBackground bounds the
// number of rows drawn per turn.
func NewTrafficGenerator(source TrafficSource, maxBackground int) (*TrafficGenerator, error) {
	if source == nil || source.Len() == 0 {
		return nil, fmt.Errorf("traffic source: %w", ErrNoDataset)
	}
	if maxBackground < 1 {
		return nil, fmt.Errorf("max background messages must be >= 1, got %d", maxBackground)
	}
	return &TrafficGenerator{source: source, maxBackground: maxBackground}, nil
}

// Generate draws between 1 and maxBackground rows. Each row gets a random
// origin node and a destination chosen uniformly among that origin's
// successors; rows whose origin has no successors are skipped. Messages are
// queued at their destination in sampling order.
func (g *TrafficGenerator) Generate(topo *Topology, rng *rand.Rand) *TrafficQueues {
	queues := NewTrafficQueues(topo.NodeCount())
	if topo.NodeCount() == 0 {
		return queues
	}

	count := 1 + rng.Intn(g.maxBackground)
	for k := 0; k < count; k++ {
		row := g.source.Row(rng.Intn(g.source.Len()))
		origin := topo.NodeID(rng.Intn(topo.NodeCount()))
		succ := topo.OutNeighbors(origin)
		if len(succ) == 0 {
			continue
		}
		dest := succ[rng.Intn(len(succ))]
		idx, _ := topo.NodeIndex(dest)
		queues.push(idx, QueuedMessage{Message: row.WithEndpoints(origin, dest)})
	}
	return queues
}
