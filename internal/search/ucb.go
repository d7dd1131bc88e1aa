package search

import "math"

// ucb1 computes the UCB1 score for a child given its accumulated rewards,
// visit count, and the precomputed numerator c^2 * ln(parentVisits).
// Unvisited children score +Inf so every newly created child is evaluated
// at least once before its siblings are revisited.
func ucb1(rewards float64, visits int, c2LnN float64) float64 {
	if visits == 0 {
		return math.Inf(1)
	}
	return rewards/float64(visits) + math.Sqrt(c2LnN/float64(visits))
}

// selectChild picks the child with the highest UCB1 score. Children are
// scanned in creation order, so the earliest unvisited child wins outright.
func (t *Tree) selectChild(id nodeID, exploration float64) nodeID {
	n := t.at(id)
	if len(n.children) == 0 {
		return noNode
	}
	if n.visits == 0 {
		return n.children[0]
	}
	c2LnN := exploration * exploration * math.Log(float64(n.visits))

	best := noNode
	bestScore := math.Inf(-1)
	for _, c := range n.children {
		cn := t.at(c)
		score := ucb1(cn.rewards, cn.visits, c2LnN)
		if math.IsInf(score, 1) {
			return c
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}
