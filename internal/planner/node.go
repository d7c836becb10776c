package planner

import (
	"container/heap"
	"time"

	"qfleet/internal/action"
	"qfleet/internal/state"
)

// node is one point in the search space. Each Plan call owns its nodes; no
// search state is shared between concurrent calls.
type node struct {
	state    state.WorldState
	parent   *node
	act      *action.Action // action taken to reach this node, nil at root
	gCost    float64
	hCost    float64
	duration time.Duration // cumulative estimated duration
	depth    int
	seq      int // insertion order, final deterministic tie-break
}

func (n *node) fCost() float64 { return n.gCost + n.hCost }

func (n *node) lastActionID() string {
	if n.act == nil {
		return ""
	}
	return n.act.ID
}

// openSet is a min-heap ordered by fCost, breaking ties by hCost, then
// cumulative duration, then lexicographic last-action ID, then insertion
// order. The full chain makes popping order fully deterministic.
type openSet []*node

func (o openSet) Len() int { return len(o) }

func (o openSet) Less(i, j int) bool {
	a, b := o[i], o[j]
	if a.fCost() != b.fCost() {
		return a.fCost() < b.fCost()
	}
	if a.hCost != b.hCost {
		return a.hCost < b.hCost
	}
	if a.duration != b.duration {
		return a.duration < b.duration
	}
	if a.lastActionID() != b.lastActionID() {
		return a.lastActionID() < b.lastActionID()
	}
	return a.seq < b.seq
}

func (o openSet) Swap(i, j int) { o[i], o[j] = o[j], o[i] }

func (o *openSet) Push(x interface{}) { *o = append(*o, x.(*node)) }

func (o *openSet) Pop() interface{} {
	old := *o
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*o = old[:n-1]
	return item
}

var _ heap.Interface = (*openSet)(nil)

// path reconstructs the root-to-n action sequence.
func (n *node) path() []action.Action {
	var rev []action.Action
	for cur := n; cur.act != nil; cur = cur.parent {
		rev = append(rev, *cur.act)
	}
	out := make([]action.Action, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}
