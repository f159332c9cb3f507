package engine

// Phase names the phase control is handed to when the tile phase ends.
type Phase string

const (
	// PhaseAction follows a successful placement (follower deployment etc.).
	PhaseAction Phase = "action"
	// PhaseCleanUpTurn ends the player's turn without a placement.
	PhaseCleanUpTurn Phase = "clean_up_turn"
	// PhaseCleanUpTurnPart ends only the current part of the turn.
	PhaseCleanUpTurnPart Phase = "clean_up_turn_part"
	// PhaseFinalScoring runs a capability-owned final scoring.
	PhaseFinalScoring Phase = "final_scoring"
	// PhaseGameOver ends the game.
	PhaseGameOver Phase = "game_over"
)

// Stage is a state of the tile phase machine.
type Stage uint8

const (
	StageAwaitingDraw     Stage = iota // 0
	StageAwaitingDecision              // 1
	StageResolvingEffects              // 2
	StageDone                          // 3
)

func (st Stage) String() string {
	switch st {
	case StageAwaitingDraw:
		return "awaiting_draw"
	case StageAwaitingDecision:
		return "awaiting_decision"
	case StageResolvingEffects:
		return "resolving_effects"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Step is the result of one phase invocation: either the snapshot now holds a
// pending action (Next is empty) or control moves to Next.
type Step struct {
	State Snapshot
	Next  Phase
}

// Suspended reports whether the phase is waiting for a player reply.
func (st Step) Suspended() bool { return st.Next == "" }
