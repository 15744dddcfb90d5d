package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/cohort/internal/api"
	"github.com/seantiz/cohort/internal/config"
	"github.com/seantiz/cohort/internal/engine"
	"github.com/seantiz/cohort/internal/manifest"
	"github.com/seantiz/cohort/internal/registry"
	"github.com/seantiz/cohort/internal/store"
	"github.com/seantiz/cohort/internal/tracing"
	"github.com/seantiz/cohort/internal/work"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("cohort: starting",
		"listen_addr", cfg.ListenAddr,
		"step_ms", cfg.StepDuration.Milliseconds(),
		"poll_ms", cfg.PollInterval.Milliseconds(),
		"groups_file", cfg.GroupsFile,
	)

	if cfg.TraceFile != "" {
		stop, err := tracing.InitFile("cohort", version, cfg.TraceFile)
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
		n, err := m.Apply(reg)
		if err != nil {
			log.Fatalf("failed to register groups: %v", err)
		}
		logger.Info("groups loaded", "groups", len(m.Groups), "tasks", n)
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
	go bc.Run(ctx, nil)

	srv := api.NewServer(cfg.ListenAddr, reg, eng, bc, db, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
