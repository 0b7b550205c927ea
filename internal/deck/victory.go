package deck

// Living pairs a surviving player with their card.
type Living struct {
	Name string
	Role Role
}

// Outcome reports a decided game. Survivors are the winners' entries.
type Outcome struct {
	Team      Team
	Survivors []Living
}

// Evaluate checks the victory conditions over the living players. nightKill
// marks that the next elimination is a guaranteed wolf kill, which enables
// the early "unstoppable wolves" call at parity-minus-one. A nil return
// means the game goes on.
func Evaluate(living []Living, nightKill bool) *Outcome {
	if len(living) == 0 {
		return nil
	}

	var wolves, others, hamsters []Living
	for _, entry := range living {
		switch entry.Role.ID {
		case RoleWerewolf:
			wolves = append(wolves, entry)
		case RoleWerehamster:
			hamsters = append(hamsters, entry)
			others = append(others, entry)
		default:
			others = append(others, entry)
		}
	}

	// Only hamsters left standing.
	if len(hamsters) > 0 && len(hamsters) == len(living) {
		return &Outcome{Team: TeamLoner, Survivors: living}
	}

	// No wolves: the village wins, unless a hamster outlasted everyone's
	// attention.
	if len(wolves) == 0 {
		if len(hamsters) > 0 {
			return &Outcome{Team: TeamLoner, Survivors: hamsters}
		}
		return &Outcome{Team: TeamHumans, Survivors: living}
	}

	// Unstoppable wolves: one guaranteed kill away from parity. A hamster
	// in play spoils the guarantee (the bite may bounce off it).
	if nightKill && len(hamsters) == 0 && len(others) == len(wolves)+1 && len(others) > 1 {
		return &Outcome{Team: TeamWolves, Survivors: wolves}
	}

	if len(wolves) >= len(others) {
		if len(hamsters) > 0 {
			return &Outcome{Team: TeamLoner, Survivors: hamsters}
		}
		return &Outcome{Team: TeamWolves, Survivors: living}
	}
	return nil
}
