package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	zLog "github.com/rs/zerolog/log"

	supervisor "go-analyst/internal/agents/supervisor/actor"
	"go-analyst/internal/api"
	"go-analyst/internal/app"
	"go-analyst/pkg/config"
	"go-analyst/pkg/logger"
)

// finished supervisors answer status from memory this long before the store takes over
const linger = 2 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	log.Println("starting server")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Panicf("failed to load config: %v", err)
	}
	err = logger.NewGlobal(cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		log.Panicf("failed to initialize logger: %v", err)
	}

	admission := api.NewAdmission(cfg.Server.MaxConcurrentRuns)
	a, err := app.New(context.Background(), cfg, admission)
	if err != nil {
		zLog.Panic().Err(err).Msg("failed to build app")
	}
	defer a.Close()
	if a.Store == nil {
		zLog.Panic().Msg("store.dsn is required to serve requests")
	}

	system := actor.NewActorSystem().Root
	srv := api.New(system, api.Options{
		Port:       cfg.Server.Port,
		Supervisor: supervisor.New(a.Orchestrator, linger),
		Store:      a.Store,
		Admission:  admission,
		Tools:      a.Registry.List(),
		Runner:     a.Orchestrator,
		Invoker:    a.Invoker,
		Config:     cfg,
		DataDir:    cfg.Tools.DataDir,
	})

	go func() {
		err := srv.Start()
		if err != nil {
			zLog.Panic().Err(err).Msg("server crash")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	stop()
	zLog.Info().Msg("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		zLog.Panic().Err(err).Msg("server forced to shutdown")
	}

	zLog.Info().Msg("server exiting")
}
