package chat

import "fmt"

// MemberInfo is a detached snapshot of a member record: identity and address
// metadata plus the coordinator flag. Snapshots are what travels inside
// member-list records; they never carry a transport handle.
type MemberInfo struct {
	// ID is the unique identifier the member joined under.
	ID string
	// Addr is the remote address of the member's connection as seen by the
	// server.
	Addr string
	// Port is the remote port of the member's connection.
	Port int
	// Coordinator is true while the member holds the coordinator role.
	Coordinator bool
}

func (m MemberInfo) String() string {
	return fmt.Sprintf("%s (%s:%d)", m.ID, m.Addr, m.Port)
}
