package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/SirClappington/autobook/internal/app"
	"github.com/SirClappington/autobook/internal/config"
	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/worker"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, "worker")
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	h := a.Handlers()
	opts := worker.Options{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		MaxRetries:   cfg.MaxJobRetries,
	}
	handlers := map[domain.Stage]worker.Handler{
		domain.StageSearch:  h.Search,
		domain.StageMonitor: h.Monitor,
		domain.StageBook:    h.Book,
		domain.StageNotify:  h.Notify,
	}
	var workers []*worker.Worker
	for _, stage := range domain.Stages {
		workers = append(workers, worker.New(stage, handlers[stage], a.Queue, a.Leases, opts, a.Log))
	}

	a.Log.Info("workers started", zap.Int("per_stage", cfg.WorkerConcurrency))
	if err := worker.Pool(ctx, workers...); err != nil {
		a.Log.Error("worker pool", zap.Error(err))
	}
}
