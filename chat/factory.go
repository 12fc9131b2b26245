package chat

import (
	"golang.org/x/exp/slices"
)

// NewJoin builds the join request a peer sends as its first record.
func NewJoin(sender string) *Message {
	return &Message{Kind: KindJoin, Sender: sender}
}

// NewJoinAck builds the server's reply to a successful join, carrying the
// peer's coordinator status and the current coordinator id.
func NewJoinAck(text string, coordinator bool, coordinatorID string) *Message {
	return &Message{
		Kind:          KindJoin,
		Sender:        ServerID,
		Text:          text,
		Coordinator:   coordinator,
		CoordinatorID: coordinatorID,
	}
}

// NewLeave builds a leave record. Peers send it to quit; the server sends it
// back as the acknowledgment.
func NewLeave(sender string) *Message {
	return &Message{Kind: KindLeave, Sender: sender, Text: "Leaving the group"}
}

// NewBroadcast builds a group-wide text message.
func NewBroadcast(sender, text string) *Message {
	return &Message{Kind: KindBroadcast, Sender: sender, Text: text}
}

// NewPrivate builds a text message addressed to a single member.
func NewPrivate(sender, recipient, text string) *Message {
	return &Message{Kind: KindPrivate, Sender: sender, Recipient: recipient, Text: text}
}

// NewError builds a server-originated error record.
func NewError(text string) *Message {
	return &Message{Kind: KindError, Sender: ServerID, Text: text}
}

// NewProbe builds a liveness probe. The empty text distinguishes it from the
// pong answer and the manual trigger.
func NewProbe(sender string) *Message {
	return &Message{Kind: KindHeartbeat, Sender: sender}
}

// NewPong builds a peer's answer to a liveness probe.
func NewPong(sender string) *Message {
	return &Message{Kind: KindHeartbeat, Sender: sender, Text: TextPong}
}

// NewManualPing builds the coordinator's request for an out-of-schedule
// liveness round.
func NewManualPing(sender string) *Message {
	return &Message{Kind: KindHeartbeat, Sender: sender, Text: TextManualPing}
}

// NewMemberListRequest builds the coordinator's direct member-list fetch.
func NewMemberListRequest(sender string) *Message {
	return &Message{Kind: KindMemberListRequest, Sender: sender}
}

// NewApprovalRequest builds a non-coordinator's request to have the member
// list disclosed, relayed to the coordinator for a verdict.
func NewApprovalRequest(sender string) *Message {
	return &Message{Kind: KindApprovalRequest, Sender: sender, Text: "Requesting member list approval."}
}

// NewApproved builds the coordinator's positive verdict on a member-list
// request from requester.
func NewApproved(sender, requester string) *Message {
	return &Message{Kind: KindApproved, Sender: sender, Recipient: requester}
}

// NewDenied builds the coordinator's negative verdict, with the reason the
// requester will see.
func NewDenied(sender, requester, reason string) *Message {
	return &Message{Kind: KindDenied, Sender: sender, Recipient: requester, Text: reason}
}

// NewMemberList builds a member-list record from detached snapshots.
func NewMemberList(sender string, members []MemberInfo) *Message {
	return &Message{Kind: KindMemberList, Sender: sender, Members: members}
}

// NewNameList builds the sorted member-name digest the server pushes to the
// coordinator after every membership change.
func NewNameList(recipient string, members []MemberInfo) *Message {
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.ID)
	}
	slices.Sort(names)

	return &Message{
		Kind:      KindNameList,
		Sender:    ServerID,
		Recipient: recipient,
		Names:     names,
	}
}
