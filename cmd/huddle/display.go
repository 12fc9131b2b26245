package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/huddlenet/huddle/chat"
	"github.com/huddlenet/huddle/client"
)

// display renders inbound traffic on the terminal and answers liveness
// probes. Everything presentation-side lives here; the client package
// stays display-agnostic.
type display struct {
	client *client.Client
	out    io.Writer
	done   chan struct{}
}

func newDisplay(c *client.Client, out io.Writer) *display {
	return &display{
		client: c,
		out:    out,
		done:   make(chan struct{}),
	}
}

func (d *display) OnMessage(msg *chat.Message) {
	switch msg.Kind {
	case chat.KindHeartbeat:
		// An empty heartbeat is a liveness probe: answer it quietly.
		if msg.Text == "" {
			_ = d.client.SendRaw(chat.NewPong(d.client.ID()))
		}

	case chat.KindBroadcast:
		fmt.Fprintf(d.out, "%s: %s\n", msg.Sender, msg.Text)

	case chat.KindPrivate:
		fmt.Fprintf(d.out, "[private] %s: %s\n", msg.Sender, msg.Text)

	case chat.KindJoin:
		fmt.Fprintf(d.out, "* %s\n", msg.Text)

	case chat.KindApprovalRequest:
		fmt.Fprintf(d.out, "* %s requests the member list (/approve %s or /deny %s)\n",
			msg.Sender, msg.Sender, msg.Sender)

	case chat.KindNameList:
		fmt.Fprintf(d.out, "* members: %s\n", strings.Join(msg.Names, ", "))

	case chat.KindError:
		fmt.Fprintf(d.out, "! %s\n", msg.Text)
	}
}

func (d *display) OnMembersUpdate(members []chat.MemberInfo) {
	fmt.Fprintln(d.out, "* member list:")

	for _, m := range members {
		role := ""
		if m.Coordinator {
			role = " (coordinator)"
		}

		fmt.Fprintf(d.out, "  %s %s:%d%s\n", m.ID, m.Addr, m.Port, role)
	}
}

func (d *display) OnDisconnect() {
	fmt.Fprintln(d.out, "* disconnected from server")
	close(d.done)
}
