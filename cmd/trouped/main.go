// trouped is a demonstration daemon for the troupe actor runtime: a small
// actor fleet (a greeter and a counter) exposed through the example HTTP
// front-end, with YAML configuration and leveled subsystem logging.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/troupelabs/troupe/actor"
	"github.com/troupelabs/troupe/internal/build"
	"github.com/troupelabs/troupe/internal/config"
	"github.com/troupelabs/troupe/web"
)

var (
	// configPath is the path to the YAML configuration file.
	configPath string

	// listenAddr overrides the configured listen address when set.
	listenAddr string
)

// rootCmd is the base command for the daemon.
var rootCmd = &cobra.Command{
	Use:   "trouped",
	Short: "Demo daemon for the troupe actor runtime",
	Long: `trouped runs a small actor fleet behind an HTTP front-end.

Routes:
  POST /v1/greet  {"name": "..."}   greeting served by the greeter actor
  POST /v1/count  {"amount": N}     running total kept by the counter actor
  GET  /healthz                     liveness probe`,
	RunE: run,

	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "",
		"Path to YAML config (defaults apply when omitted)",
	)
	rootCmd.PersistentFlags().StringVar(
		&listenAddr, "listen", "",
		"Listen address override (e.g. 127.0.0.1:8432)",
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run wires configuration, logging and the actor fleet, then blocks until
// an interrupt winds the runtime down to quiescence.
func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	writers := []io.Writer{os.Stderr}
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(
			cfg.LogFile,
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
		)
		if err != nil {
			return fmt.Errorf("unable to open log file: %w", err)
		}
		defer logFile.Close()

		writers = append(writers, logFile)
	}

	logMgr := build.NewLoggerManager(writers...)

	actor.UseLogger(logMgr.GenSubLogger(actor.Subsystem))
	web.UseLogger(logMgr.GenSubLogger(web.Subsystem))
	log := logMgr.GenSubLogger("TRPD")

	level, err := build.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logMgr.SetLevels(level)

	for tag, levelStr := range cfg.SubsystemLevels {
		subLevel, err := build.ParseLevel(levelStr)
		if err != nil {
			return err
		}
		if err := logMgr.SetSubLevel(tag, subLevel); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	// Failures with nowhere else to go end up in the daemon log.
	actor.SetUncaughtHandler(func(a actor.Ref, err error) {
		log.ErrorS(ctx, "Uncaught actor failure", err,
			"actor", a.Name())
	})

	greeter := actor.New[*Greeter](actor.WithName("greeter")).
		Behavior(func(actorCtx *actor.Context[*Greeter]) *Greeter {
			return &Greeter{ctx: actorCtx}
		}).
		OnSignal(func(sig actor.Signal, hctx *actor.HandlerContext) {
			logActorSignal(log, ctx, "greeter", sig)
		})

	counter := actor.New[*Counter](actor.WithName("counter")).
		Behavior(func(actorCtx *actor.Context[*Counter]) *Counter {
			return &Counter{ctx: actorCtx}
		}).
		OnSignal(func(sig actor.Signal, hctx *actor.HandlerContext) {
			logActorSignal(log, ctx, "counter", sig)
		})

	srv := web.NewServer(cfg.ListenAddr)
	web.Route(srv, "POST /v1/greet", greeter,
		func(g *Greeter, req GreetRequest) (GreetResponse, error) {
			return g.Greet(req)
		})
	web.Route(srv, "POST /v1/count", counter,
		func(c *Counter, req CountRequest) (CountResponse, error) {
			return c.Add(req)
		})

	log.InfoS(ctx, "trouped starting", "listen", cfg.ListenAddr)

	err = actor.Run(
		ctx, []actor.Ref{greeter, counter},
		func(sctx *actor.StartContext) {
			if err := srv.Serve(ctx, sctx); err != nil {
				log.ErrorS(ctx, "Front-end failed", err)
			}
		},
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.InfoS(ctx, "trouped stopped")

	return nil
}
