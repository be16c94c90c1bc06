package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hum/internal/config"
	"hum/internal/hertzapi"
	"hum/internal/hertzws"
	"hum/internal/httpapi"
	"hum/internal/ratelimit"
	"hum/internal/rooms"
	"hum/internal/ws"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.Log.Apply()

	// 创建房间管理器
	roomManager := rooms.NewManager(
		rooms.WithGracePeriod(cfg.Room.GracePeriod),
		rooms.WithMaxMessageLength(cfg.Chat.MaxLength),
		rooms.WithLimiter(newLimiter(ctx, cfg)),
	)
	wsOpts := ws.Options{
		ReadLimit:  cfg.WS.ReadLimit,
		PingPeriod: cfg.WS.PingPeriod,
		SendBuffer: cfg.WS.SendBuffer,
	}
	addr := fmt.Sprintf(":%d", cfg.Port)

	if cfg.Transport == "echo" {
		runEcho(ctx, addr, roomManager, cfg, wsOpts)
		return
	}
	runHertz(ctx, addr, roomManager, cfg, wsOpts)
}

func newLimiter(ctx context.Context, cfg *config.Config) ratelimit.Limiter {
	if cfg.Redis.URL != "" {
		client, err := ratelimit.DialRedis(ctx, cfg.Redis.URL)
		if err == nil {
			log.Info().Str("module", "main").Msg("chat limiter backed by redis")
			return ratelimit.NewRedis(client, cfg.Chat.RateLimit, cfg.Chat.RateWindow)
		}
		log.Warn().Err(err).Str("module", "main").Msg("redis unavailable, using in-memory chat limiter")
	}
	return ratelimit.NewMemory(cfg.Chat.RateLimit, cfg.Chat.RateWindow, nil)
}

func runHertz(ctx context.Context, addr string, roomManager *rooms.Manager, cfg *config.Config, wsOpts ws.Options) {
	h := server.Default(server.WithHostPorts(addr))
	router := hertzapi.NewRouter(h, roomManager, hertzws.NewHandler(roomManager, cfg.AllowedOrigins, wsOpts))

	go func() {
		log.Info().Str("addr", addr).Msg("starting hertz server")
		router.Spin()
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

func runEcho(ctx context.Context, addr string, roomManager *rooms.Manager, cfg *config.Config, wsOpts ws.Options) {
	api := httpapi.NewServer(roomManager, cfg.AllowedOrigins, wsOpts)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.Router(),
	}

	go func() {
		log.Info().Str("addr", addr).Msg("starting echo server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped")
}
