// Package election selects a coordinator from a membership set. Rules are
// pure and deterministic: the same candidate set always produces the same
// winner, so every caller that runs an election over identical membership
// agrees on the outcome without any extra coordination.
package election

import (
	"fmt"

	"github.com/huddlenet/huddle/chat"
)

// Rule picks the coordinator from a candidate set. The returned flag is
// false when the set is empty.
type Rule func(candidates []chat.MemberInfo) (winner chat.MemberInfo, ok bool)

// LowestID elects the member with the lexicographically smallest id. This is
// the default rule.
func LowestID(candidates []chat.MemberInfo) (chat.MemberInfo, bool) {
	var winner chat.MemberInfo

	found := false

	for _, c := range candidates {
		if !found || c.ID < winner.ID {
			winner = c
			found = true
		}
	}

	return winner, found
}

// HighestPort elects the member with the numerically largest port. Ports are
// assigned by the peer's OS and may collide across hosts, so equal ports
// fall back to the smaller id to keep the rule deterministic.
func HighestPort(candidates []chat.MemberInfo) (chat.MemberInfo, bool) {
	var winner chat.MemberInfo

	found := false

	for _, c := range candidates {
		switch {
		case !found:
			winner = c
			found = true
		case c.Port > winner.Port:
			winner = c
		case c.Port == winner.Port && c.ID < winner.ID:
			winner = c
		}
	}

	return winner, found
}

// ByName resolves a rule from its configuration name.
func ByName(name string) (Rule, error) {
	switch name {
	case "lowest-id":
		return LowestID, nil
	case "highest-port":
		return HighestPort, nil
	default:
		return nil, fmt.Errorf("unknown election rule: %q", name)
	}
}
