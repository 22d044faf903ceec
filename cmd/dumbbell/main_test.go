package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/dumbbell-simulator/internal/config"
	"github.com/signalsfoundry/dumbbell-simulator/internal/logging"
	"github.com/signalsfoundry/dumbbell-simulator/internal/sim"
	"github.com/signalsfoundry/dumbbell-simulator/internal/trace"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	def := config.Default()
	if cfg.Run.LeftLeaves != def.LeftLeaves || cfg.Run.RightLeaves != def.RightLeaves || cfg.Run.Leaves != 0 {
		t.Fatalf("leaf counts = %d/%d/%d", cfg.Run.LeftLeaves, cfg.Run.RightLeaves, cfg.Run.Leaves)
	}
	if cfg.Run.Stack != "ns3" || cfg.Run.UDP || cfg.Run.Bandwidth != "1m" {
		t.Fatalf("run = %+v", cfg.Run)
	}
	if cfg.Run.AnimFile != "dumbbell-animation.xml" || cfg.MetricsAddress != "" {
		t.Fatalf("anim file %q, metrics %q", cfg.Run.AnimFile, cfg.MetricsAddress)
	}
}

func TestExplicitFlagsOverrideRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := "n_left_leaf: 4\nn_right_leaf: 3\nbandwidth: 5m\nhorizon: 30s\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := parseFlags([]string{"-config", path, "-nLeftLeaf=6", "-udp"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Run.LeftLeaves != 6 {
		t.Fatalf("nLeftLeaf = %d, want the flag value 6", cfg.Run.LeftLeaves)
	}
	if cfg.Run.RightLeaves != 3 || cfg.Run.Bandwidth != "5m" || cfg.Run.Horizon != 30*time.Second {
		t.Fatalf("run file values lost: %+v", cfg.Run)
	}
	if !cfg.Run.UDP {
		t.Fatalf("udp flag ignored")
	}
}

func TestParseFlagsRejectsBadInput(t *testing.T) {
	cases := map[string][]string{
		"bandwidth":  {"-bw", "fast"},
		"stack":      {"-stack", "solaris"},
		"leaf count": {"-nLeftLeaf", "0"},
		"anim file":  {"-animFile", "out.txt"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseFlags(args, io.Discard); !errors.Is(err, config.ErrInvalidConfig) {
				t.Fatalf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := parseFlags([]string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("-h error = %v, want flag.ErrHelp", err)
	}
	if _, err := parseFlags([]string{"-anim-file", "out.xml"}, io.Discard); err == nil {
		t.Fatalf("-anim-file accepted; the flag is -animFile")
	}
	if _, err := parseFlags([]string{"extra"}, io.Discard); err == nil {
		t.Fatalf("positional argument accepted")
	}
}

func TestRunWritesTrace(t *testing.T) {
	anim := filepath.Join(t.TempDir(), "trace.json")
	var stdout bytes.Buffer

	err := run(context.Background(), []string{"-nLeaf=2", "-animFile", anim, "-udp", "-bw", "2m"}, &stdout, io.Discard, logging.Noop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != sim.CompletionMessage+anim {
		t.Fatalf("stdout = %q", got)
	}

	doc, err := trace.ReadFile(anim)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !doc.Complete || len(doc.Nodes) != 6 {
		t.Fatalf("trace complete=%v with %d nodes", doc.Complete, len(doc.Nodes))
	}
}

func TestRunWithShortHorizon(t *testing.T) {
	anim := filepath.Join(t.TempDir(), "short.xml")
	var stdout bytes.Buffer

	err := run(context.Background(), []string{"-horizon", "5s", "-animFile", anim}, &stdout, io.Discard, logging.Noop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != sim.CompletionMessage+anim {
		t.Fatalf("stdout = %q", got)
	}

	doc, err := trace.ReadFile(anim)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !doc.Complete {
		t.Fatalf("trace incomplete: %s", doc.Reason)
	}
	// Five 1s windows for each of the five nodes.
	if len(doc.Counters) != 5*5 {
		t.Fatalf("trace has %d counter samples, want 25", len(doc.Counters))
	}
	for _, c := range doc.Counters {
		if c.End > 5 {
			t.Fatalf("counter window %v-%v past the horizon", c.Start, c.End)
		}
	}
}
