package main

import "time"

var opts struct {
	Server struct {
		BindAddr      string `long:"bind-addr" env:"BIND_ADDR" default:":7400" description:"address to listen for peer connections"`
		ExitWhenEmpty bool   `long:"exit-when-empty" env:"EXIT_WHEN_EMPTY" description:"stop once the last member leaves"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	Heartbeat struct {
		Interval time.Duration `long:"interval" env:"INTERVAL" default:"5m" description:"period of the liveness round"`
		Grace    time.Duration `long:"grace" env:"GRACE" default:"60s" description:"time a member has to answer a probe"`
	} `group:"heartbeat" namespace:"heartbeat" env-namespace:"HEARTBEAT"`

	Election struct {
		Rule string `long:"rule" env:"RULE" default:"lowest-id" choice:"lowest-id" choice:"highest-port" description:"coordinator election rule"`
	} `group:"election" namespace:"election" env-namespace:"ELECTION"`

	Metrics struct {
		BindAddr string `long:"bind-addr" env:"BIND_ADDR" description:"address to serve prometheus metrics, disabled when empty"`
	} `group:"metrics" namespace:"metrics" env-namespace:"METRICS"`

	Verbose bool `long:"verbose" env:"VERBOSE" description:"verbose mode"`
}
