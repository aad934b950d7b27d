package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SpotSentinel/internal/cache"
	"SpotSentinel/internal/config"
	"SpotSentinel/internal/entsoe"
	"SpotSentinel/internal/model"
	"SpotSentinel/internal/notifier"
	"SpotSentinel/internal/recorder"
	"SpotSentinel/internal/scheduler"
	"SpotSentinel/internal/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] SpotSentinel starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	loc := cfg.Location()
	quarterHourFrom, _ := model.ParseDate(cfg.Market.QuarterHourFrom)
	log.Printf("[INFO] market %s (%s), timezone %s", cfg.Market.Name, cfg.Entsoe.Area, cfg.Market.Timezone)

	// Init upstream client
	client := entsoe.NewClient(cfg.Entsoe.BaseURL, cfg.Entsoe.Token, cfg.Entsoe.Area, cfg.Market.Name, loc, quarterHourFrom)

	// Init cache and event broker
	priceCache := cache.New(loc)
	broker := notifier.NewBroker()
	if _, err := priceCache.Subscribe(broker); err != nil {
		log.Fatalf("[FATAL] register event broker: %v", err)
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init scheduler
	windowStart, err := scheduler.WindowMinutes(cfg.Schedule.WindowStart)
	if err != nil {
		log.Fatalf("[FATAL] schedule window: %v", err)
	}
	windowEnd, err := scheduler.WindowMinutes(cfg.Schedule.WindowEnd)
	if err != nil {
		log.Fatalf("[FATAL] schedule window: %v", err)
	}
	sched := scheduler.New(client, priceCache, rec, loc, scheduler.Options{
		HealthCron:        cfg.Schedule.HealthCron,
		RotationCron:      cfg.Schedule.RotationCron,
		WindowStartMin:    windowStart,
		WindowEndMin:      windowEnd,
		PreferQuarterHour: true,
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[FATAL] start scheduler: %v", err)
	}

	// Init HTTP server
	version := os.Getenv("SPOT_VERSION")
	if version == "" {
		version = "dev"
	}
	srv := server.New(cfg.Server.Addr, priceCache, sched, broker, loc,
		cfg.Market.Name, cfg.Pricing.VATRate, cfg.Pricing.DefaultMarginCents, version)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	log.Println("[INFO] SpotSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal or server failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Println("[INFO] shutdown signal received, stopping...")
	case err := <-serverErr:
		log.Printf("[ERROR] http server: %v", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] http shutdown: %v", err)
	}
	sched.Stop()
	broker.Close()
	log.Println("[INFO] SpotSentinel stopped")
}
