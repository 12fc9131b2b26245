package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jessevdk/go-flags"

	"github.com/huddlenet/huddle/chat"
	"github.com/huddlenet/huddle/client"
)

func setupLogger() kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))

	if !opts.Verbose {
		logger = level.NewFilter(logger, level.AllowWarn())
	}

	return logger
}

func main() {
	p := flags.NewParser(&opts, flags.Default)

	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			fmt.Println("cli error:", err)
		}

		os.Exit(2)
	}

	logger := setupLogger()

	conf := client.DefaultConfig()
	conf.ID = opts.Peer.ID
	conf.ServerAddr = opts.Server.Addr
	conf.Logger = logger

	c := client.New(conf)

	disp := newDisplay(c, os.Stdout)
	c.Subscribe(disp)

	if err := c.Connect(); err != nil {
		fmt.Fprintln(os.Stderr, "connect failed:", err)
		os.Exit(1)
	}

	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-disp.done:
			return

		case line, ok := <-lines:
			if !ok {
				c.Leave()
				return
			}

			if quit := handleLine(c, line); quit {
				c.Leave()
				return
			}
		}
	}
}

// handleLine interprets one line of input: /commands, or plain text sent
// as a broadcast. It reports true when the user asked to leave.
func handleLine(c *client.Client, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if err := c.Send(line, ""); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
		}

		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error

	switch cmd {
	case "/msg":
		recipient, text, ok := strings.Cut(rest, " ")
		if !ok {
			fmt.Fprintln(os.Stderr, "usage: /msg <id> <text>")
			return false
		}

		err = c.Send(strings.TrimSpace(text), recipient)

	case "/members":
		// Honored by the server only when we are the coordinator.
		err = c.SendRaw(chat.NewMemberListRequest(c.ID()))

	case "/request":
		err = c.SendRaw(chat.NewApprovalRequest(c.ID()))

	case "/approve":
		if rest == "" {
			fmt.Fprintln(os.Stderr, "usage: /approve <id>")
			return false
		}

		err = c.SendRaw(chat.NewApproved(c.ID(), rest))

	case "/deny":
		if rest == "" {
			fmt.Fprintln(os.Stderr, "usage: /deny <id>")
			return false
		}

		err = c.SendRaw(chat.NewDenied(c.ID(), rest, "The request has been denied."))

	case "/ping":
		err = c.SendRaw(chat.NewManualPing(c.ID()))

	case "/leave":
		return true

	default:
		fmt.Fprintln(os.Stderr, "unknown command:", cmd)
		return false
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "send failed:", err)
	}

	return false
}
