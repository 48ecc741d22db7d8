package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gorelaybridge/config"
	"gorelaybridge/logconfig"
	"gorelaybridge/redis"
	"gorelaybridge/workers"
	"gorelaybridge/workers/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run every configured bridge direction and the status API",
	RunE:  runServe,
}

func loadConfig(cmd *cobra.Command) (*config.Configuration, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Configuration) (*redis.Store, error) {
	store := redis.New(redis.Options{
		Host:     cfg.Server.RedisHost,
		Port:     cfg.Server.RedisPort,
		Password: cfg.Server.RedisPassword,
		DB:       cfg.Server.RedisDB,
	})
	// without persistence do not continue
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return store, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logconfig.Configure(cfg.Server.LogMode)
	logDir := cfg.Server.LogDir
	if logDir == "" {
		if st, err := os.Stat("logs"); err == nil && st.IsDir() {
			logDir = "logs"
		}
	}
	logFile, err := logconfig.OpenDailyFile(logDir, time.Now())
	if err != nil {
		return err
	}
	defer logFile.Close()

	logger.Info("Starting bridge relay")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	bridge, err := workers.Build(cfg, store, store)
	if err != nil {
		return err
	}
	for _, d := range bridge.Directions() {
		logger.WithField("direction", d.Name).Info("direction configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Run(gctx)
	})
	g.Go(func() error {
		return workers.Worker_HTTP(gctx, workers.HTTPConfig{
			Listen:   cfg.Server.Listen,
			UseSSL:   cfg.Server.UseSSL,
			CertFile: "certchain.pem",
			KeyFile:  "privatekey.pem",
		}, workers.Router(handlers.New(bridge, store)))
	})

	err = g.Wait()
	logger.Info("Bridge relay stopped")
	return err
}
