// Command dumbbell runs the dumbbell experiment: two routers joined by a
// backbone, leaves on either side, ping and on/off traffic, and an
// animation trace written at the end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/dumbbell-simulator/internal/config"
	"github.com/signalsfoundry/dumbbell-simulator/internal/logging"
	"github.com/signalsfoundry/dumbbell-simulator/internal/observability"
	"github.com/signalsfoundry/dumbbell-simulator/internal/sim"
)

func main() {
	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, log)
	stop()
	switch {
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case err != nil:
		log.Error(context.Background(), "dumbbell run failed", logging.Err(err))
		os.Exit(1)
	}
}

// Config is the command line of one invocation.
type Config struct {
	ConfigPath     string
	MetricsAddress string
	Run            config.RunConfig
}

// parseFlags builds the run configuration: defaults, then the YAML file
// named by -config, then any flag given explicitly.
func parseFlags(args []string, stderr io.Writer) (Config, error) {
	fs := flag.NewFlagSet("dumbbell", flag.ContinueOnError)
	fs.SetOutput(stderr)

	def := config.Default()
	configPath := fs.String("config", "", "YAML run file applied before the other flags")
	metricsAddr := fs.String("metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables it")
	nLeft := fs.Int("nLeftLeaf", def.LeftLeaves, "number of left side leaf nodes")
	nRight := fs.Int("nRightLeaf", def.RightLeaves, "number of right side leaf nodes")
	nLeaf := fs.Int("nLeaf", 0, "number of leaf nodes on each side; overrides nLeftLeaf and nRightLeaf")
	stackName := fs.String("stack", def.Stack, "network stack: ns3, linux or freebsd")
	udp := fs.Bool("udp", def.UDP, "run UDP variants of the ping applications")
	bw := fs.String("bw", def.Bandwidth, "bandwidth argument for UDP runs, e.g. 1m")
	animFile := fs.String("animFile", def.AnimFile, "animation trace output (.xml, .json or .yaml)")
	horizon := fs.Duration("horizon", def.Horizon, "simulation stop time")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := Config{ConfigPath: *configPath, MetricsAddress: *metricsAddr, Run: def}
	if cfg.ConfigPath != "" {
		loaded, err := config.Load(cfg.ConfigPath)
		if err != nil {
			return Config{}, err
		}
		cfg.Run = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "nLeftLeaf":
			cfg.Run.LeftLeaves = *nLeft
		case "nRightLeaf":
			cfg.Run.RightLeaves = *nRight
		case "nLeaf":
			cfg.Run.Leaves = *nLeaf
		case "stack":
			cfg.Run.Stack = *stackName
		case "udp":
			cfg.Run.UDP = *udp
		case "bw":
			cfg.Run.Bandwidth = *bw
		case "animFile":
			cfg.Run.AnimFile = *animFile
		case "horizon":
			cfg.Run.Horizon = *horizon
		}
	})
	return cfg, cfg.Run.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, log logging.Logger) error {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	tracing := observability.TracingConfigFromEnv()
	left, right := cfg.Run.LeafCounts()
	tracing.Attributes = observability.ExperimentAttributes(cfg.Run.Stack, left, right, cfg.Run.Horizon)
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("initialise metrics collector: %w", err)
	}
	if metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	log.Info(ctx, "starting dumbbell experiment",
		logging.Int("n_left_leaf", cfg.Run.LeftLeaves),
		logging.Int("n_right_leaf", cfg.Run.RightLeaves),
		logging.Int("n_leaf", cfg.Run.Leaves),
		logging.String("stack", cfg.Run.Stack),
		logging.Bool("udp", cfg.Run.UDP),
		logging.String("anim_file", cfg.Run.AnimFile),
	)

	_, err = sim.Execute(ctx, cfg.Run,
		sim.WithLogger(log),
		sim.WithMetrics(collector),
		sim.WithOutput(stdout),
	)
	return err
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
