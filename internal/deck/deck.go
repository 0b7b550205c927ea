// Package deck builds the secret role deck handed out at game start and
// evaluates werewolf victory conditions. It is the host's dealing
// collaborator; it knows nothing about connections or sessions.
package deck

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
)

var (
	ErrTooFewPlayers = errors.New("too few players")
	ErrTooManyWolves = errors.New("too many wolves")
)

// MinPlayers is the smallest viable village.
const MinPlayers = 5

type Team string

const (
	TeamWolves Team = "wolves"
	TeamHumans Team = "humans"
	TeamLoner  Team = "loner"
)

type RoleID string

const (
	RoleWerewolf    RoleID = "werewolf"
	RoleVillager    RoleID = "villager"
	RoleSeer        RoleID = "seer"
	RoleMedium      RoleID = "medium"
	RolePossessed   RoleID = "possessed"
	RoleBodyguard   RoleID = "bodyguard"
	RoleWerehamster RoleID = "werehamster"
)

// Role is a role definition from the library.
type Role struct {
	ID          RoleID `json:"roleId"`
	Name        string `json:"name"`
	Team        Team   `json:"team"`
	TeamLabel   string `json:"teamLabel"`
	Description string `json:"description"`
}

var library = map[RoleID]Role{
	RoleWerewolf: {
		ID: RoleWerewolf, Name: "Werewolf", Team: TeamWolves, TeamLabel: "Werewolves",
		Description: "Each night the wolves open their eyes together and pick a victim. They win when the pack is as numerous as the villagers.",
	},
	RoleVillager: {
		ID: RoleVillager, Name: "Villager", Team: TeamHumans, TeamLabel: "Village",
		Description: "No special power: discuss, observe, and vote to expose the wolves. You win when no werewolves remain.",
	},
	RoleSeer: {
		ID: RoleSeer, Name: "Seer", Team: TeamHumans, TeamLabel: "Village",
		Description: "Each night you point at a player and learn whether they are wolf/hamster or human. Share information carefully.",
	},
	RoleMedium: {
		ID: RoleMedium, Name: "Medium", Team: TeamHumans, TeamLabel: "Village",
		Description: "From the second night on, learn whether the player lynched the previous day was a werewolf.",
	},
	RolePossessed: {
		ID: RolePossessed, Name: "Possessed", Team: TeamWolves, TeamLabel: "Ally of the Wolves",
		Description: "You are human but secretly root for the wolves without knowing who they are. Win only if the wolves dominate.",
	},
	RoleBodyguard: {
		ID: RoleBodyguard, Name: "Bodyguard", Team: TeamHumans, TeamLabel: "Village",
		Description: "Each night you shield one player from the wolves. You may protect yourself, but never the same player twice in a row.",
	},
	RoleWerehamster: {
		ID: RoleWerehamster, Name: "Werehamster", Team: TeamLoner, TeamLabel: "Loner",
		Description: "Immune to the wolves' bite but hunted by the seer. Win alone by surviving to the end.",
	},
}

// Lookup returns a role definition by id; unknown ids fall back to the
// plain villager.
func Lookup(id RoleID) Role {
	if r, ok := library[id]; ok {
		return r
	}
	return library[RoleVillager]
}

// RecommendWolves suggests a wolf count for the table size.
func RecommendWolves(playerTotal int) int {
	switch {
	case playerTotal < 8:
		return 1
	case playerTotal < 16:
		return 2
	default:
		return 3
	}
}

// Balance classifies a configuration as favoring "wolves", "village", or
// "balanced", using the same ratio heuristics the narrator hint shows.
func Balance(wolfCount, villageSpecialCount, playerTotal int) string {
	if playerTotal <= 0 {
		return "balanced"
	}
	ratio := float64(wolfCount) / float64(playerTotal)
	switch {
	case ratio > 0.30:
		return "wolves"
	case ratio < 0.15:
		return "village"
	case float64(villageSpecialCount) >= float64(wolfCount)*2.5:
		return "village"
	default:
		return "balanced"
	}
}

// Special requests extra copies of a non-core role in the deck.
type Special struct {
	Role   RoleID
	Copies int
}

// Build assembles a deck for playerTotal players: wolfTotal werewolves, one
// seer, any requested specials, villagers to fill, then a shuffle. The rng
// parameter allows deterministic tests; pass nil for a time-seeded one.
func Build(playerTotal, wolfTotal int, specials []Special, rng *rand.Rand) ([]Role, error) {
	if playerTotal < MinPlayers {
		return nil, fmt.Errorf("%w: %d < %d", ErrTooFewPlayers, playerTotal, MinPlayers)
	}
	if wolfTotal < 1 || wolfTotal > playerTotal-1 {
		return nil, fmt.Errorf("%w: %d wolves for %d players", ErrTooManyWolves, wolfTotal, playerTotal)
	}

	deck := make([]Role, 0, playerTotal)
	for i := 0; i < wolfTotal; i++ {
		deck = append(deck, Lookup(RoleWerewolf))
	}
	deck = append(deck, Lookup(RoleSeer))
	for _, sp := range specials {
		for i := 0; i < sp.Copies; i++ {
			deck = append(deck, Lookup(sp.Role))
		}
	}
	if len(deck) > playerTotal {
		return nil, fmt.Errorf("deck overflow: %d cards for %d players", len(deck), playerTotal)
	}
	for len(deck) < playerTotal {
		deck = append(deck, Lookup(RoleVillager))
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck, nil
}

// Deal pairs a freshly built deck with the player list and marshals each
// role to the wire payload keyed by player name. It satisfies the session
// layer's Dealer seam via session.DealerFunc.
func Deal(players []string, wolfTotal int, specials []Special, rng *rand.Rand) (map[string]json.RawMessage, error) {
	deck, err := Build(len(players), wolfTotal, specials, rng)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(players))
	for i, name := range players {
		data, err := json.Marshal(deck[i])
		if err != nil {
			return nil, err
		}
		out[name] = data
	}
	return out, nil
}
