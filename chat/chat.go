// Package chat defines the message vocabulary shared by the rendezvous
// server and its peers: record kinds, the message envelope, and detached
// member snapshots. Everything here is plain data; framing and byte-level
// encoding live in the wire package.
package chat

// ServerID is the sender id the rendezvous server puts on records it
// originates itself (acknowledgments, notices, probes).
const ServerID = "server"

// Texts carried by heartbeat records: a peer answering a liveness probe,
// and a coordinator triggering an out-of-schedule check.
const (
	TextPong       = "pong"
	TextManualPing = "manual ping"
)

// Kind tags a message record.
type Kind uint8

const (
	KindJoin Kind = iota + 1
	KindLeave
	KindBroadcast
	KindPrivate
	KindHeartbeat
	KindMemberList
	KindMemberListRequest
	KindApprovalRequest
	KindApproved
	KindDenied
	KindNameList
	KindError
)

// Valid reports whether k is one of the defined record kinds.
func (k Kind) Valid() bool {
	return k >= KindJoin && k <= KindError
}

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	case KindBroadcast:
		return "broadcast"
	case KindPrivate:
		return "private"
	case KindHeartbeat:
		return "heartbeat"
	case KindMemberList:
		return "member_list"
	case KindMemberListRequest:
		return "member_list_request"
	case KindApprovalRequest:
		return "approval_request"
	case KindApproved:
		return "approved"
	case KindDenied:
		return "denied"
	case KindNameList:
		return "name_list"
	case KindError:
		return "error"
	default:
		return ""
	}
}
