// Command udstore inspects and maintains a store described by a YAML file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/udstore"
	"github.com/unkn0wn-root/udstore/config"
	asynchook "github.com/unkn0wn-root/udstore/hooks/async"
	zaplog "github.com/unkn0wn-root/udstore/log/zap"
	"github.com/unkn0wn-root/udstore/promhooks"
	"github.com/unkn0wn-root/udstore/sloghooks"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	switch {
	case err == nil:
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "udstore:", err)
		os.Exit(1)
	}
}

// app carries what every command needs.
type app struct {
	cfg   config.Config
	store udstore.Store
	out   io.Writer
	json  bool
	log   *zap.Logger

	// set for commands that export metrics
	registry *prometheus.Registry
	metrics  *promhooks.Hooks
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli, rest, err := parseGlobal(args, stderr)
	if err != nil {
		return err
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		return errUsage
	}

	cfg := config.Default(cli.DataDir)
	if cli.ConfigPath != "" {
		if cfg, err = config.Load(cli.ConfigPath); err != nil {
			return err
		}
	} else if err := os.MkdirAll(cli.DataDir, 0o755); err != nil {
		return err
	}

	w := logWriter(cli)
	zl, err := newZap(w, cli.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	hooks := asynchook.New(sloghooks.New(newSlog(w, cli.LogLevel), sloghooks.Options{ExpiredEvery: 100, QuietSweeps: true}), 1, 256)
	defer hooks.Close()
	a := &app{cfg: cfg, out: stdout, json: cli.JSONOut, log: zl}
	all := udstore.MultiHooks{hooks}
	if cmd.metrics {
		a.registry = prometheus.NewRegistry()
		if a.metrics, err = promhooks.New(promhooks.Options{Registerer: a.registry}); err != nil {
			return err
		}
		all = append(all, a.metrics)
	}

	if a.store, err = config.Build(ctx, cfg, zaplog.New(zl), all); err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.store.Close(cctx); err != nil {
			zl.Warn("close failed", zap.Error(err))
		}
	}()

	return cmd.run(ctx, a, rest[1:])
}
