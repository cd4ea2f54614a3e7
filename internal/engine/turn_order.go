package engine

import "github.com/DoyleJ11/storycards/pkg/types"

type Action string

const (
	ActionStory    Action = "story"
	ActionPickCard Action = "pickCard"
	ActionVote     Action = "vote"
)

type Role string

const (
	RoleStoryteller Role = "storyteller"
	RoleGuesser     Role = "guesser"
)

func RoleOf(storyteller bool) Role {
	if storyteller {
		return RoleStoryteller
	}
	return RoleGuesser
}

// LegalActions is the whole stage/role matrix. A missing entry means the role
// can only watch.
var LegalActions = map[types.Stage]map[Role]Action{
	types.StageWaitForStory: {RoleStoryteller: ActionStory},
	types.StagePickCard:     {RoleGuesser: ActionPickCard},
	types.StageWaitForVote:  {RoleGuesser: ActionVote},
}

func Allowed(stage types.Stage, storyteller bool, a Action) bool {
	got, ok := LegalActions[stage][RoleOf(storyteller)]
	return ok && got == a
}

// Check explains why a is not allowed. Role is checked before stage so a
// guesser trying to tell a story always hears that they are not the
// storyteller.
func Check(stage types.Stage, storyteller bool, a Action) error {
	if Allowed(stage, storyteller, a) {
		return nil
	}
	switch {
	case a == ActionStory && !storyteller:
		return ErrNotStoryteller
	case a != ActionStory && storyteller:
		return ErrWrongTurn
	default:
		return ErrWrongStage
	}
}

func NextStoryteller(current, seats int) int {
	if seats == 0 {
		return 0
	}
	return (current + 1) % seats
}
