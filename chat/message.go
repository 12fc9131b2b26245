package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload is returned when a payload's concrete type does not
	// match what the record kind carries.
	ErrInvalidPayload = errors.New("invalid payload kind")

	// ErrUnknownKind is returned when a record kind is out of range.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Message is the envelope exchanged between the server and its peers. The
// payload is exactly one of Text or Members, selected by Kind; Recipient,
// Coordinator, CoordinatorID and Names are independent optional fields set
// after construction.
type Message struct {
	Kind   Kind
	Sender string

	// Recipient addresses the record to a single member. Empty means the
	// record is not targeted.
	Recipient string

	// Coordinator and CoordinatorID describe the coordinator role as known
	// at send time. Set on join acknowledgments and election notices.
	Coordinator   bool
	CoordinatorID string

	// Text is the free-form payload of every kind except KindMemberList.
	Text string

	// Members is the payload of KindMemberList records: detached snapshots
	// in registry order.
	Members []MemberInfo

	// Names is an optional sorted list of member ids, carried by KindNameList
	// records.
	Names []string
}

// New builds a message from a kind, a sender id and a payload. The payload
// must be nil, free text, or a list of member snapshots; a list holding
// anything other than member snapshots fails construction rather than being
// coerced. Member-list payloads are only accepted for KindMemberList, and
// vice versa.
func New(kind Kind, sender string, payload any) (*Message, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	msg := &Message{
		Kind:   kind,
		Sender: sender,
	}

	switch p := payload.(type) {
	case nil:
	case string:
		if kind == KindMemberList {
			return nil, fmt.Errorf("%w: %s carries member snapshots, not text", ErrInvalidPayload, kind)
		}
		msg.Text = p
	case []MemberInfo:
		if kind != KindMemberList {
			return nil, fmt.Errorf("%w: %s does not carry member snapshots", ErrInvalidPayload, kind)
		}
		msg.Members = p
	case []any:
		members, err := memberElements(p)
		if err != nil {
			return nil, err
		}
		if kind != KindMemberList {
			return nil, fmt.Errorf("%w: %s does not carry member snapshots", ErrInvalidPayload, kind)
		}
		msg.Members = members
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidPayload, payload)
	}

	return msg, nil
}

// memberElements converts an untyped list into member snapshots, failing if
// any element is something else. An empty list is fine.
func memberElements(list []any) ([]MemberInfo, error) {
	members := make([]MemberInfo, 0, len(list))

	for i, el := range list {
		m, ok := el.(MemberInfo)
		if !ok {
			return nil, fmt.Errorf("%w: list element %d is %T, not a member snapshot", ErrInvalidPayload, i, el)
		}
		members = append(members, m)
	}

	return members, nil
}
