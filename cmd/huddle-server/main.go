package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jessevdk/go-flags"

	"github.com/huddlenet/huddle/election"
	"github.com/huddlenet/huddle/server"
	"github.com/huddlenet/huddle/telemetry"
)

func setupLogger() kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))

	if !opts.Verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
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

	rule, err := election.ByName(opts.Election.Rule)
	if err != nil {
		level.Error(logger).Log("msg", "invalid election rule", "err", err)
		os.Exit(2)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	empty := make(chan struct{}, 1)

	conf := server.DefaultConfig()
	conf.Logger = logger
	conf.Rule = rule
	conf.HeartbeatInterval = opts.Heartbeat.Interval
	conf.GraceWindow = opts.Heartbeat.Grace

	if opts.Server.ExitWhenEmpty {
		conf.OnEmpty = func() {
			select {
			case empty <- struct{}{}:
			default:
			}
		}
	}

	srv := server.New(conf)
	srv.StartHeartbeat()

	if opts.Metrics.BindAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())

		go func() {
			level.Info(logger).Log("msg", "serving metrics", "addr", opts.Metrics.BindAddr)

			if err := http.ListenAndServe(opts.Metrics.BindAddr, mux); err != nil {
				level.Error(logger).Log("msg", "metrics server failed", "err", err)
			}
		}()
	}

	errc := make(chan error, 1)

	go func() {
		errc <- srv.ListenAndServe(opts.Server.BindAddr)
	}()

	select {
	case <-interrupt:
		level.Info(logger).Log("msg", "received interrupt signal, shutting down")
	case <-empty:
		level.Info(logger).Log("msg", "last member left, shutting down")
	case err := <-errc:
		if err != nil {
			level.Error(logger).Log("msg", "server failed", "err", err)
			os.Exit(1)
		}
	}

	srv.Shutdown()
}
