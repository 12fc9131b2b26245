package main

var opts struct {
	Peer struct {
		ID string `long:"id" env:"ID" required:"true" description:"identity to join under"`
	} `group:"peer" namespace:"peer" env-namespace:"PEER"`

	Server struct {
		Addr string `long:"addr" env:"ADDR" default:"127.0.0.1:7400" description:"rendezvous server address"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	Verbose bool `long:"verbose" env:"VERBOSE" description:"verbose mode"`
}
