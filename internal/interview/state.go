package interview

// State names a stage of the interview lifecycle.
type State string

const (
	StateSetup          State = "setup"
	StatePlanning       State = "planning"
	StateAsking         State = "asking"
	StateAwaitingAnswer State = "awaiting_answer"
	StateScoring        State = "scoring"
	StateAdapting       State = "adapting"
	StateCompleted      State = "completed"
	StateReporting      State = "reporting"
	StateDone           State = "done"
	StatePaused         State = "paused"
	StateFailed         State = "failed"
)

// transitions lists the legal forward edges. Paused and Failed are handled
// separately: any non-terminal state may pause or fail, and a paused session
// resumes into the state it left.
var transitions = map[State][]State{
	StateSetup:          {StatePlanning},
	StatePlanning:       {StateAsking},
	StateAsking:         {StateAwaitingAnswer},
	StateAwaitingAnswer: {StateScoring},
	StateScoring:        {StateAdapting},
	StateAdapting:       {StateAsking, StateCompleted},
	StateCompleted:      {StateReporting},
	StateReporting:      {StateDone},
}

// Terminal reports whether no further transitions can leave the state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	if from == to {
		return false
	}
	if to == StateFailed {
		return !from.Terminal()
	}
	if to == StatePaused {
		return !from.Terminal() && from != StatePaused
	}
	if from == StatePaused {
		return !to.Terminal() && to != StatePaused
	}

	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
