package search

import (
	"fmt"

	"github.com/datatales/storyteller/internal/story"
)

// nodeID indexes into the tree's node arena. Parent references are plain
// indices rather than pointers so ownership stays acyclic: the tree owns
// every node and destruction is a single sweep.
type nodeID int

const noNode nodeID = -1

type node struct {
	id       nodeID
	parent   nodeID
	children []nodeID
	depth    int
	// action is the step that produced this node from its parent; zero for
	// the root.
	action story.Action
	state  story.State

	visits  int
	rewards float64
	score   Score
	scored  bool

	// proposed is set once the action proposer has been invoked for this
	// node; terminal means no further expansion is possible here; exhausted
	// means no expansion is possible anywhere in this node's subtree.
	proposed  bool
	terminal  bool
	exhausted bool
}

func (n *node) mean() float64 {
	if n.visits == 0 {
		return 0
	}
	return n.rewards / float64(n.visits)
}

// Tree owns the arena of nodes for one search run. It is rebuilt from
// scratch on every run and is exclusively owned by the solver; nothing here
// is safe for concurrent mutation.
type Tree struct {
	nodes    []node
	maxDepth int
}

// NewTree creates a tree with a root holding the empty story state.
func NewTree(root story.State, maxDepth int) *Tree {
	t := &Tree{maxDepth: maxDepth}
	t.nodes = append(t.nodes, node{id: 0, parent: noNode, state: root})
	return t
}

func (t *Tree) root() *node         { return &t.nodes[0] }
func (t *Tree) at(id nodeID) *node  { return &t.nodes[id] }
func (t *Tree) Len() int            { return len(t.nodes) }
func (t *Tree) MaxDepth() int       { return t.maxDepth }

// addChild materializes one child by applying the action to the parent's
// state. The depth bound is a hard invariant: no node is ever created past
// maxDepth.
func (t *Tree) addChild(parent nodeID, a story.Action) (nodeID, error) {
	p := t.at(parent)
	if p.depth >= t.maxDepth {
		return noNode, fmt.Errorf("cannot expand node %d at depth limit %d", parent, t.maxDepth)
	}
	id := nodeID(len(t.nodes))
	child := node{
		id:     id,
		parent: parent,
		depth:  p.depth + 1,
		action: a,
		state:  p.state.With(a),
	}
	if child.depth == t.maxDepth || child.state.Concluded() {
		child.terminal = true
	}
	t.nodes = append(t.nodes, child)
	// re-take the pointer: append may have moved the arena
	t.at(parent).children = append(t.at(parent).children, id)
	return id, nil
}

// backpropagate adds one evaluation event's reward along the path from id up
// to the root, inclusive.
func (t *Tree) backpropagate(id nodeID, reward float64) {
	for cur := id; cur != noNode; cur = t.at(cur).parent {
		n := t.at(cur)
		n.visits++
		n.rewards += reward
	}
}

// refreshExhausted recomputes exhausted flags from id up to the root. A node
// is exhausted when it is terminal, or when it has been proposed and every
// child subtree is exhausted.
func (t *Tree) refreshExhausted(id nodeID) {
	for cur := id; cur != noNode; cur = t.at(cur).parent {
		n := t.at(cur)
		if n.terminal {
			n.exhausted = true
			continue
		}
		if !n.proposed {
			n.exhausted = false
			continue
		}
		exhausted := true
		for _, c := range n.children {
			if !t.at(c).exhausted {
				exhausted = false
				break
			}
		}
		n.exhausted = exhausted
	}
}

// bestChild returns the child to follow during answer extraction: highest
// visit count, ties broken by highest mean reward, then by earliest
// creation. Returns noNode for leaves.
func (t *Tree) bestChild(id nodeID) nodeID {
	n := t.at(id)
	best := noNode
	for _, c := range n.children {
		if best == noNode {
			best = c
			continue
		}
		cn, bn := t.at(c), t.at(best)
		if cn.visits > bn.visits ||
			(cn.visits == bn.visits && cn.mean() > bn.mean()) {
			best = c
		}
	}
	return best
}

// bestPath walks from the root following bestChild, returning the action
// sequence and the final node.
func (t *Tree) bestPath() ([]story.Action, nodeID) {
	var actions []story.Action
	cur := nodeID(0)
	for {
		next := t.bestChild(cur)
		if next == noNode {
			return actions, cur
		}
		actions = append(actions, t.at(next).action)
		cur = next
	}
}
