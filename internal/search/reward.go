package search

// Score is a state evaluation in [0,1], split into its language-model-judged
// and structural halves. Combined is the weighted sum actually used for
// rewards.
type Score struct {
	Judge      float64 `json:"judge"`
	Structural float64 `json:"structural"`
	Combined   float64 `json:"combined"`
}

// reward maps an evaluator score to the scalar used in backpropagation.
// Terminal states receive the completion bonus so fully developed stories
// are preferred over abandoned shallow ones. The result is clamped to
// [0, 1+bonus]; UCB1's exploration-term scaling relies on this bound.
func reward(score float64, terminal bool, bonus float64) float64 {
	r := score
	if terminal {
		r += bonus
	}
	if r < 0 {
		return 0
	}
	if max := 1 + bonus; r > max {
		return max
	}
	return r
}
