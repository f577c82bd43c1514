package task

// Counts tallies group members by state.
type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
	Pending   int `json:"pending"` // queued
	Blocked   int `json:"blocked"`
	Cancelled int `json:"cancelled"`
}

// Add records one member in state s.
func (c *Counts) Add(s State) {
	c.Total++
	switch s {
	case StateCompleted:
		c.Completed++
	case StateFailed:
		c.Failed++
	case StateRunning:
		c.Running++
	case StateQueued:
		c.Pending++
	case StateBlocked:
		c.Blocked++
	case StateCancelled:
		c.Cancelled++
	}
}

// Finished is the number of members that will not run again without a retry.
func (c Counts) Finished() int {
	return c.Completed + c.Failed + c.Cancelled
}

// CountStates tallies a list of member states.
func CountStates(states []State) Counts {
	var c Counts
	for _, s := range states {
		c.Add(s)
	}
	return c
}

// Rollup derives a group's state from its member counts under the given
// failure policy. An empty group is pending.
func Rollup(policy OnFailure, c Counts) GroupState {
	if c.Total == 0 {
		return GroupPending
	}
	if c.Failed > 0 && (policy == FailFast || policy == "") {
		return GroupFailed
	}
	if c.Finished() == c.Total {
		if c.Failed > 0 && policy == Continue {
			return GroupFailed
		}
		return GroupCompleted
	}
	if c.Running > 0 {
		return GroupRunning
	}
	return GroupPending
}

// JoinOutcome is the result of applying a join strategy to group counts.
type JoinOutcome struct {
	Satisfied  bool `json:"satisfied"`
	Impossible bool `json:"impossible"`
	Needed     int  `json:"needed"`
}

// Required returns how many completed members the strategy needs.
// joinCount is only consulted for JoinAnyN.
func Required(strategy JoinStrategy, joinCount, total int) int {
	switch strategy {
	case JoinFirst, JoinAny:
		return 1
	case JoinAnyN:
		if joinCount < 1 {
			return 1
		}
		return joinCount
	case JoinMajority:
		return total/2 + 1
	default:
		return total
	}
}

// EvaluateJoin reports whether the join is satisfied, or can no longer be
// satisfied because too few members remain that could still complete.
// A group with no members is neither.
func EvaluateJoin(strategy JoinStrategy, joinCount int, c Counts) JoinOutcome {
	need := Required(strategy, joinCount, c.Total)
	out := JoinOutcome{Needed: need}
	if c.Total == 0 {
		return out
	}
	if c.Completed >= need {
		out.Satisfied = true
		return out
	}
	stillPossible := c.Total - c.Failed - c.Cancelled
	out.Impossible = stillPossible < need
	return out
}
