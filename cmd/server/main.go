package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	router "github.com/dkeye/Relay/internal/adapters/http"
	wsignal "github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/engine"
	"github.com/dkeye/Relay/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the logger early so config.Load can use it.
	logging.Setup("debug", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	logging.Setup(cfg.Mode, cfg.LogLevel)

	reg := app.NewRegistry()
	stt := engine.NewClient(cfg.Engine.URL, cfg.Engine.ConnectTimeout)

	o := orch.New(reg, stt, app.SimplePolicy{})
	o.ConnectTimeout = cfg.Engine.ConnectTimeout
	o.DrainTimeout = cfg.Engine.DrainTimeout

	ctl := wsignal.NewSignalWSController(o, wsignal.Options{
		ReadLimit:       cfg.ReadLimit,
		SendBuffer:      cfg.SendBuffer,
		MaxViolations:   cfg.Protocol.MaxViolations,
		ViolationWindow: cfg.Protocol.ViolationWindow,
	})

	hb := &app.Heartbeat{
		Registry:  reg,
		Interval:  cfg.Heartbeat.Interval,
		OnTimeout: o.Disconnect,
	}

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	var wg conc.WaitGroup
	wg.Go(func() { hb.Run(ctx) })
	wg.Go(func() {
		log.Info().Str("addr", addr).Str("engine", cfg.Engine.URL).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	})

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown()
	ctl.Wait()
	wg.Wait()
	log.Info().Msg("Server exited gracefully")
}
