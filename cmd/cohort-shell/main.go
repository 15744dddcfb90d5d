// cohort-shell is the interactive front end: groups are built and run from a
// prompt, and Ctrl+C cancels every task without leaving the shell.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/seantiz/cohort/internal/config"
	"github.com/seantiz/cohort/internal/engine"
	"github.com/seantiz/cohort/internal/manifest"
	"github.com/seantiz/cohort/internal/registry"
	"github.com/seantiz/cohort/internal/shell"
	"github.com/seantiz/cohort/internal/store"
	"github.com/seantiz/cohort/internal/tracing"
	"github.com/seantiz/cohort/internal/work"
)

const version = "0.1.0"

func main() {
	cfg := config.LoadShell()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	if cfg.TraceFile != "" {
		stop, err := tracing.InitFile("cohort-shell", version, cfg.TraceFile)
		if err != nil {
			log.Fatalf("failed to start tracing: %v", err)
		}
		defer stop(context.Background())
	}

	reg := registry.New(work.Builtin(cfg.StepDuration))
	if cfg.GroupsFile != "" {
		m, err := manifest.Load(cfg.GroupsFile)
		if err != nil {
			log.Fatalf("failed to load groups: %v", err)
		}
		if _, err := m.Apply(reg); err != nil {
			log.Fatalf("failed to register groups: %v", err)
		}
	}

	db, err := store.NewMemoryStore()
	if err != nil {
		log.Fatalf("failed to open run history: %v", err)
	}
	defer db.Close()

	eng := engine.NewEngine(reg, db, logger, cfg.PollInterval)
	bc := engine.NewBroadcaster(reg, eng.Broker(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go bc.Run(ctx, sigs)

	sh := shell.New(reg, eng, bc, db, os.Stdout, os.Stderr)
	if err := sh.Run(ctx, os.Stdin); err != nil {
		log.Fatalf("shell: %v", err)
	}
}
