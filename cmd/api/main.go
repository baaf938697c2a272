package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/autobook/internal/api"
	"github.com/SirClappington/autobook/internal/app"
	"github.com/SirClappington/autobook/internal/config"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, "api")
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	srv := &api.Server{
		Queue:  a.Queue,
		Ledger: a.Ledger,
		Locks:  a.Leases,
		Checks: map[string]api.Pinger{
			"redis":    func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
			"postgres": a.DB.Ping,
		},
		Log: a.Log.Named("api"),
	}
	httpSrv := &http.Server{Addr: cfg.APIAddr, Handler: srv.Routes(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdown)
	}()

	a.Log.Info("listening", zap.String("addr", cfg.APIAddr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.Log.Error("http server", zap.Error(err))
	}
}
