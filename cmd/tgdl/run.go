package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tgdl/config"
	"tgdl/internal/logging"
	"tgdl/internal/runtime"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control surface and download worker pool.",
	Run:   runApp,
}

func runApp(cmd *cobra.Command, args []string) {
	logging.Init(false, "info")
	log := logging.L()
	mainLogger := log.Named("Main")
	mainLogger.Info("Starting server")
	config.Load(log, cmd)

	logging.Init(config.ValueOf.Dev, config.ValueOf.LogLevel)
	log = logging.L()
	mainLogger = log.Named("Main")

	rt, err := runtime.New(log)
	if err != nil {
		mainLogger.Fatal("failed to construct runtime", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)

	mainServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.ValueOf.Port),
		Handler: rt.Control.Router(),
	}
	statusServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.ValueOf.StatusPort),
		Handler: rt.Control.StatusRouter(),
	}

	mainLogger.Info("Server started", zap.Int("mainPort", config.ValueOf.Port), zap.Int("statusPort", config.ValueOf.StatusPort))
	mainLogger.Info("Telegram media downloader", zap.String("version", versionString))
	mainLogger.Sugar().Infof("Main server is running at %s", config.ValueOf.Host)
	mainLogger.Sugar().Infof("Status server is running at http://0.0.0.0:%d/status", config.ValueOf.StatusPort)

	go func() {
		statusLogger := log.Named("StatusServer")
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			statusLogger.Error("status server stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := mainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLogger.Error("main server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	mainLogger.Info("shutdown signal received, draining in-flight work")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = mainServer.Shutdown(shutdownCtx)
	_ = statusServer.Shutdown(shutdownCtx)

	rt.Stop()
	_ = log.Sync()
}
