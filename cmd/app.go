package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/vantu-dev/pairlink/internal/application/config"
	"github.com/vantu-dev/pairlink/internal/application/constant"
	"github.com/vantu-dev/pairlink/internal/application/metric"
	"github.com/vantu-dev/pairlink/internal/infra/adapters/postgres"
	"github.com/vantu-dev/pairlink/internal/infra/adapters/postgres/repository"
	"github.com/vantu-dev/pairlink/internal/infra/ports/http/handlers"
	"github.com/vantu-dev/pairlink/internal/infra/ports/http/server"
	"github.com/vantu-dev/pairlink/internal/relay"
	"github.com/vantu-dev/pairlink/internal/usecase"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling and API server",
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	level := slog.LevelInfo

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	if cfg.Debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: level},
			),
		),
	)

	dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
	if err != nil {
		slog.Error("connect to postgres", slog.Any(constant.Error, err))
		os.Exit(1)
	}
	defer dbConn.Close()

	userRepo := repository.NewUserRepo(dbConn)
	messageRepo := repository.NewMessageRepo(dbConn)
	callRepo := repository.NewCallRepo(dbConn)

	userUsecase := usecase.NewUserUsecase([]byte(cfg.JWTSecret), userRepo)

	callRelay := relay.New(messageRepo)

	authHandler := handlers.NewAuthHandler(userUsecase)
	messageHandler := handlers.NewMessageHandler(messageRepo)
	callHandler := handlers.NewCallHandler(callRepo)
	iceHandler := handlers.NewIceHandler(cfg)
	wsHandler := handlers.NewWebSocketHandler(cfg, callRelay)

	echoSrv := server.New(cfg, authHandler, messageHandler, callHandler, iceHandler, wsHandler)

	metricsSrv := metric.NewServer()

	echoSrvCh := make(chan error, 1)
	metricsSrvCh := make(chan error, 1)

	go func() {
		echoSrvCh <- echoSrv.Start(":" + cfg.Port)
	}()

	go func() {
		metricsSrvCh <- metricsSrv.Start(":" + cfg.MetricsPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down servers")
	case err := <-echoSrvCh:
		slog.Error("HTTP server failed", slog.Any(constant.Error, err))
		os.Exit(1)
	case err := <-metricsSrvCh:
		slog.Error("metrics server failed", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("shutdown HTTP server", slog.Any(constant.Error, err))
	}

	if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("shutdown metrics server", slog.Any(constant.Error, err))
	}
}
