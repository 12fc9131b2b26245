package election_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlenet/huddle/chat"
	"github.com/huddlenet/huddle/election"
)

func TestLowestID(t *testing.T) {
	candidates := []chat.MemberInfo{
		{ID: "cid", Port: 50001},
		{ID: "amy", Port: 50002},
		{ID: "bob", Port: 50003},
	}

	winner, ok := election.LowestID(candidates)
	require.True(t, ok)
	assert.Equal(t, "amy", winner.ID)
}

func TestLowestID_Deterministic(t *testing.T) {
	candidates := []chat.MemberInfo{
		{ID: "bob"},
		{ID: "amy"},
	}

	first, ok := election.LowestID(candidates)
	require.True(t, ok)

	// Order of the candidate set must not matter.
	reversed := []chat.MemberInfo{candidates[1], candidates[0]}
	second, ok := election.LowestID(reversed)
	require.True(t, ok)

	assert.Equal(t, first, second)
}

func TestLowestID_Empty(t *testing.T) {
	_, ok := election.LowestID(nil)
	assert.False(t, ok)
}

func TestHighestPort(t *testing.T) {
	candidates := []chat.MemberInfo{
		{ID: "amy", Port: 50001},
		{ID: "bob", Port: 50003},
		{ID: "cid", Port: 50002},
	}

	winner, ok := election.HighestPort(candidates)
	require.True(t, ok)
	assert.Equal(t, "bob", winner.ID)
}

func TestHighestPort_TieBreaksOnID(t *testing.T) {
	candidates := []chat.MemberInfo{
		{ID: "cid", Port: 50001},
		{ID: "amy", Port: 50001},
	}

	winner, ok := election.HighestPort(candidates)
	require.True(t, ok)
	assert.Equal(t, "amy", winner.ID)
}

func TestByName(t *testing.T) {
	rule, err := election.ByName("lowest-id")
	require.NoError(t, err)

	winner, ok := rule([]chat.MemberInfo{{ID: "bob"}, {ID: "amy"}})
	require.True(t, ok)
	assert.Equal(t, "amy", winner.ID)

	rule, err = election.ByName("highest-port")
	require.NoError(t, err)

	winner, ok = rule([]chat.MemberInfo{{ID: "amy", Port: 1}, {ID: "bob", Port: 2}})
	require.True(t, ok)
	assert.Equal(t, "bob", winner.ID)

	_, err = election.ByName("coin-flip")
	require.Error(t, err)
}
