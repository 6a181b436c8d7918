package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Interview/internal/adapters/http"
	"github.com/dkeye/Interview/internal/agent"
	"github.com/dkeye/Interview/internal/app"
	"github.com/dkeye/Interview/internal/app/orch"
	"github.com/dkeye/Interview/internal/config"
	"github.com/dkeye/Interview/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	policy, err := app.PolicyByName(cfg.Backpressure)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid backpressure policy")
	}
	reg := app.NewRegistry()
	limiter := orch.NewViolationLimiter(cfg.ViolationLimit, cfg.ViolationWindow)
	rt := orch.NewRouter(reg, policy, limiter)

	var launcher *agent.Launcher
	if cfg.Agent.Autostart {
		launcher = agent.LauncherFor(ctx, agent.Config{
			ServerURL:          cfg.Agent.ServerURL,
			DisplayName:        cfg.Agent.DisplayName,
			MuteAudio:          cfg.Agent.MuteAudio,
			MuteVideo:          cfg.Agent.MuteVideo,
			ICEServers:         cfg.ICEServers,
			NegotiationTimeout: cfg.NegotiationTimeout,
			MaxRecreate:        cfg.MaxRecreate,
		})
		rt.OnEmptyRoom = func(room domain.RoomID) { launcher.Launch(room) }
	}

	r := router.SetupRouter(ctx, cfg, rt)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Interview server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if launcher != nil {
		launcher.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	reg.Close()
	log.Info().Msg("Server exited gracefully")
}
