package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webrelay/webrelay/internal/agent"
	"github.com/webrelay/webrelay/internal/bridge"
	"github.com/webrelay/webrelay/internal/common/cnst"
	"github.com/webrelay/webrelay/internal/common/config"
	"github.com/webrelay/webrelay/internal/gateway"
	"github.com/webrelay/webrelay/internal/limiter"
	"github.com/webrelay/webrelay/internal/session"
	"github.com/webrelay/webrelay/pkg/logger"
	"github.com/webrelay/webrelay/pkg/metrics"
	"github.com/webrelay/webrelay/pkg/version"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of webrelay",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("webrelay version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "webrelay",
		Short: "Browser control-plane gateway",
		Long:  `webrelay turns a single browser-side WebSocket link into a reliable command substrate serving many concurrent agent conversations`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", cnst.ConfigFileName, "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zlogger, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlogger.Sync()
	zlogger = zlogger.Named(cnst.AppName)
	zlogger.Info("starting webrelay", zap.String("version", version.Get()))

	gin.SetMode(gin.ReleaseMode)

	m := metrics.New(cfg.Metrics)
	lim := limiter.New(cfg.Limiter.MaxConcurrent, cfg.Limiter.MaxQueueSize, zlogger, m)
	b := bridge.New(&cfg.Browser, lim, zlogger, m)

	factory := func(kind agent.Kind) (agent.Agent, error) {
		return agent.New(kind, agent.Deps{
			Browser: b,
			OpenAI:  cfg.OpenAI,
			Logger:  zlogger,
		})
	}
	sessions := session.NewManager(cfg.Sessions.MaxSessions, cfg.Sessions.IdleTimeout, factory, zlogger, m)

	sweeper := session.NewSweeper(sessions, cfg.Sessions.SweepInterval, func(ctx context.Context, id string) {
		sessions.Delete(id)
	}, zlogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The browser link connects in the background; the API comes up
	// regardless and reports connection state via /api/status.
	if err := b.Connect(ctx); err != nil {
		zlogger.Warn("initial browser connection failed, retrying in background", zap.Error(err))
	}
	sweeper.Start(ctx)

	srv := gateway.NewServer(cfg, b, sessions, m, zlogger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zlogger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zlogger.Error("gateway server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlogger.Error("gateway shutdown failed", zap.Error(err))
	}
	sweeper.Stop()
	sessions.Shutdown(shutdownCtx)
	if err := b.Close(); err != nil {
		zlogger.Error("failed to close browser connection", zap.Error(err))
	}
	zlogger.Info("shutdown complete")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
