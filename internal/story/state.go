package story

import (
	"sort"
	"strings"
)

// State is the ordered sequence of committed actions defining a partial or
// complete data narrative, plus derived bookkeeping. States are built
// copy-on-write: With returns a fresh value and never mutates the receiver,
// so two tree nodes never share a mutable state.
type State struct {
	actions []Action
	used    map[string]bool
}

// EmptyState returns the root story state (no actions committed).
func EmptyState() State {
	return State{used: map[string]bool{}}
}

// With returns a new state with the action appended.
func (s State) With(a Action) State {
	actions := make([]Action, len(s.actions), len(s.actions)+1)
	copy(actions, s.actions)
	actions = append(actions, a)

	used := make(map[string]bool, len(s.used)+2)
	for c := range s.used {
		used[c] = true
	}
	for _, c := range a.ColumnsUsed() {
		used[c] = true
	}
	return State{actions: actions, used: used}
}

// Actions returns the committed action sequence. Callers must not mutate the
// returned slice.
func (s State) Actions() []Action { return s.actions }

// Depth is the number of committed actions, equal to the owning node's depth.
func (s State) Depth() int { return len(s.actions) }

// UsedColumns returns the distinct dataset columns referenced so far, sorted.
func (s State) UsedColumns() []string {
	cols := make([]string, 0, len(s.used))
	for c := range s.used {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// DistinctKinds returns how many distinct action kinds appear in the story.
func (s State) DistinctKinds() int {
	kinds := map[ActionKind]bool{}
	for _, a := range s.actions {
		kinds[a.Kind] = true
	}
	return len(kinds)
}

// Concluded reports whether a conclude action has been committed. A concluded
// story accepts no further actions.
func (s State) Concluded() bool {
	for _, a := range s.actions {
		if a.Kind == KindConclude {
			return true
		}
	}
	return false
}

// Summary renders a running narrative summary of the story so far, used in
// proposer and evaluator prompts.
func (s State) Summary() string {
	if len(s.actions) == 0 {
		return "(empty story)"
	}
	var b strings.Builder
	for i, a := range s.actions {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(a.Label())
		if a.Rationale != "" {
			b.WriteString(" - ")
			b.WriteString(a.Rationale)
		}
	}
	return b.String()
}
