package deck

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func countRoles(deck []Role) map[RoleID]int {
	counts := make(map[RoleID]int)
	for _, r := range deck {
		counts[r.ID]++
	}
	return counts
}

func TestBuild_Composition(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	deck, err := Build(8, 2, []Special{{Role: RoleBodyguard, Copies: 1}}, rng)
	require.NoError(t, err)
	require.Len(t, deck, 8)

	counts := countRoles(deck)
	require.Equal(t, 2, counts[RoleWerewolf])
	require.Equal(t, 1, counts[RoleSeer])
	require.Equal(t, 1, counts[RoleBodyguard])
	require.Equal(t, 4, counts[RoleVillager])
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(4, 1, nil, nil)
	require.ErrorIs(t, err, ErrTooFewPlayers)

	_, err = Build(6, 0, nil, nil)
	require.ErrorIs(t, err, ErrTooManyWolves)

	_, err = Build(6, 6, nil, nil)
	require.ErrorIs(t, err, ErrTooManyWolves)

	// specials that don't fit the table
	_, err = Build(5, 1, []Special{{Role: RoleMedium, Copies: 5}}, nil)
	require.Error(t, err)
}

func TestBuild_ShuffleIsSeeded(t *testing.T) {
	a, err := Build(10, 2, nil, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, err := Build(10, 2, nil, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	require.Equal(t, a, b, "same seed must produce the same deal")
}

func TestDeal_KeysByPlayerName(t *testing.T) {
	players := []string{"alice", "bob", "carol", "dave", "erin"}
	out, err := Deal(players, 1, nil, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	require.Len(t, out, len(players))

	wolves := 0
	for _, name := range players {
		payload, ok := out[name]
		require.True(t, ok, "missing assignment for %s", name)
		var r Role
		require.NoError(t, json.Unmarshal(payload, &r))
		if r.ID == RoleWerewolf {
			wolves++
		}
	}
	require.Equal(t, 1, wolves)
}

func TestDeal_PropagatesBuildErrors(t *testing.T) {
	_, err := Deal([]string{"alice", "bob"}, 1, nil, nil)
	require.True(t, errors.Is(err, ErrTooFewPlayers))
}

func TestLookup_UnknownFallsBackToVillager(t *testing.T) {
	r := Lookup("vampire")
	require.Equal(t, RoleVillager, r.ID)
}

func TestRecommendWolves(t *testing.T) {
	cases := []struct {
		players int
		want    int
	}{
		{5, 1}, {7, 1}, {8, 2}, {15, 2}, {16, 3}, {30, 3},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, RecommendWolves(tc.players), "players=%d", tc.players)
	}
}

func TestBalance(t *testing.T) {
	require.Equal(t, "wolves", Balance(3, 0, 8))    // ratio > 0.30
	require.Equal(t, "village", Balance(1, 0, 10))  // ratio < 0.15
	require.Equal(t, "village", Balance(2, 5, 10))  // specials outweigh wolves
	require.Equal(t, "balanced", Balance(2, 1, 10)) // nothing tips the scale
	require.Equal(t, "balanced", Balance(1, 0, 0))  // degenerate input
}
