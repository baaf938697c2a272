package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/autobook/internal/app"
	"github.com/SirClappington/autobook/internal/config"
	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/monitor"
	"github.com/SirClappington/autobook/internal/reconcile"
	"github.com/SirClappington/autobook/internal/stages"
	"github.com/SirClappington/autobook/internal/storage"
)

const (
	promoteBatch = 200
	pendingBatch = 500
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := storage.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
		log.Fatal(err)
	}

	a, err := app.New(ctx, cfg, "scheduler")
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	s := &scheduler{
		a:       a,
		log:     a.Log.Named("scheduler"),
		sweeper: reconcile.NewSweeper(a.Store, cfg.StaleAttemptAfter, a.Log),
	}
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.resign()
			return
		case now := <-tick.C:
			s.tick(ctx, now)
		}
	}
}

type scheduler struct {
	a           *app.App
	log         *zap.Logger
	sweeper     *reconcile.Sweeper
	leader      *domain.Lease
	lastMonitor time.Time
}

func (s *scheduler) tick(ctx context.Context, now time.Time) {
	if !s.elect(ctx) {
		return
	}

	// 1) move due delayed jobs into their stage queues
	for _, stage := range domain.Stages {
		n, err := s.a.Queue.PromoteDue(ctx, stage, now, promoteBatch)
		if err != nil {
			s.log.Warn("promote due", zap.String("stage", string(stage)), zap.Error(err))
			continue
		}
		if n > 0 {
			s.log.Debug("promoted", zap.String("stage", string(stage)), zap.Int("jobs", n))
		}
	}

	// 2) queue monitor checks for pending trips whose snapshot is stale
	if now.Sub(s.lastMonitor) < s.a.Cfg.SchedulerTick {
		return
	}
	s.lastMonitor = now
	if err := s.enqueueMonitors(ctx, now); err != nil {
		s.log.Error("enqueue monitors", zap.Error(err))
	}

	// 3) flag trips blocked by attempts a dead worker left processing
	if _, err := s.sweeper.Sweep(ctx, now); err != nil {
		s.log.Error("sweep stale attempts", zap.Error(err))
	}
}

// elect keeps or takes the scheduler lease; only the holder does work.
func (s *scheduler) elect(ctx context.Context) bool {
	if s.leader != nil {
		if err := s.a.Leases.Extend(ctx, s.leader, 0); err == nil {
			return true
		}
		s.log.Warn("lost scheduler lease")
		s.leader = nil
	}
	l, err := s.a.Leases.Acquire(ctx, "scheduler", domain.OpTick, 0)
	if err != nil {
		return false
	}
	s.log.Info("acquired scheduler lease")
	s.leader = l
	return true
}

func (s *scheduler) resign() {
	if s.leader != nil {
		s.a.Leases.Release(context.Background(), s.leader)
	}
}

func (s *scheduler) enqueueMonitors(ctx context.Context, now time.Time) error {
	ids, err := s.a.Store.PendingTrips(ctx, pendingBatch)
	if err != nil {
		return err
	}
	queued := 0
	for _, id := range ids {
		rec, err := s.a.Ledger.GetMonitoringData(ctx, id)
		if err != nil {
			s.log.Warn("monitoring data", zap.String("trip_request_id", id), zap.Error(err))
			continue
		}
		if !monitor.Due(rec, now, s.a.Cfg.MonitorInterval) {
			continue
		}
		stage, priority := domain.StageMonitor, stages.PriorityMonitor
		if rec == nil {
			// never searched
			stage, priority = domain.StageSearch, stages.PrioritySearch
		}
		if err := s.a.Queue.Enqueue(ctx, &domain.Job{TripRequestID: id, Stage: stage, Priority: priority}); err != nil {
			return err
		}
		queued++
	}
	if queued > 0 {
		s.log.Info("queued trip checks", zap.Int("trips", queued), zap.Int("pending", len(ids)))
	}
	return nil
}
