// cmd/bitaxe-monitor/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/alerting"
	"bitaxe-monitor/internal/cache"
	"bitaxe-monitor/internal/config"
	"bitaxe-monitor/internal/database"
	"bitaxe-monitor/internal/metrics"
	"bitaxe-monitor/internal/monitoring"
	"bitaxe-monitor/internal/notifications"
	"bitaxe-monitor/internal/web"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("BitAxe Monitor %s\nCommit: %s\nBuilt: %s\n", web.Version, web.GitCommit, web.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"database":    cfg.Database.Path,
		"miners":      len(cfg.EnabledMiners()),
	}).Info("Starting BitAxe monitor")

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metricsCollector := metrics.NewCollector(store)

	telegram := notifications.NewTelegramSink(store, cfg.Notifications.Telegram)
	sink := notifications.NewThrottledSink(telegram, notifications.NewThrottler(cfg.Notifications.Throttle))
	dispatcher := alerting.NewDispatcher(store, sink, metricsCollector)

	engine, err := monitoring.NewEngine(cfg, store, metricsCollector, dispatcher)
	if err != nil {
		logrus.Fatalf("Failed to initialize monitoring engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, serving latest sample from the database")
		} else {
			defer redisCache.Close()
			engine.SetCache(redisCache)
			logrus.WithField("addr", cfg.Redis.Addr).Info("Latest sample cache enabled")
		}
	}

	webServer, err := web.NewServer(cfg, engine, metricsCollector, sink)
	if err != nil {
		logrus.Fatalf("Failed to initialize web server: %v", err)
	}

	if err := engine.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start monitoring engine: %v", err)
	}

	if err := webServer.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start web server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown failed")
	}

	cancel()
	engine.Stop()
	dispatcher.Wait()

	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
