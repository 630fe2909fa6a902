package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/zophiezlan/nfc-tap-logger/internal/config"
	"github.com/zophiezlan/nfc-tap-logger/internal/db"
	"github.com/zophiezlan/nfc-tap-logger/internal/httpapi"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/anomaly"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/failover"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/plugin"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/reader"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/service"
	sqlitestore "github.com/zophiezlan/nfc-tap-logger/internal/tapline/store/sqlite"
)

func main() {
	var (
		flagConfig = pflag.String("config", "", "path to topology YAML (overrides TAPSTATION_TOPOLOGY_FILE)")
		flagAddr   = pflag.String("addr", "", "HTTP listen address (overrides TAPSTATION_HTTP_ADDR)")
		flagDB     = pflag.String("db", "", "sqlite database path (overrides TAPSTATION_DB_PATH)")
	)
	pflag.Parse()

	cfg := config.FromEnv()
	if *flagConfig != "" {
		cfg.TopologyPath = *flagConfig
	}
	if *flagAddr != "" {
		cfg.HTTPAddr = *flagAddr
	}
	if *flagDB != "" {
		cfg.DBPath = *flagDB
	}

	logger := log.New(os.Stdout, "tapstation ", log.LstdFlags|log.LUTC)

	topo := flow.DefaultTopology()
	anomCfg := anomaly.DefaultConfig()
	if cfg.TopologyPath != "" {
		f, err := config.LoadTopology(cfg.TopologyPath)
		if err != nil {
			logger.Fatalf("topology: %v", err)
		}
		topo, err = f.BuildTopology()
		if err != nil {
			logger.Fatalf("topology: %v", err)
		}
		f.Apply(&cfg)
		applyAnomalyThresholds(&anomCfg, f.Anomaly)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer conn.Close()

	writer := db.NewWorker(conn)
	defer writer.Close()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{
			StationID: cfg.StationID,
			PeerID:    cfg.PeerID,
			Stages:    cfg.Stages,
		}); err != nil {
			logger.Printf("seed dev: %v", err)
		}
	}

	events := sqlitestore.NewEventStore(conn, writer, topo)
	cards := sqlitestore.NewCardStore(conn, writer)
	stations := sqlitestore.NewStationStore(conn, writer)

	registry := service.NewStationRegistry(stations)
	plugins := plugin.NewRegistry(logger)

	monitor := failover.NewMonitor(failover.Config{
		PeerURL:          cfg.PeerURL,
		CheckInterval:    time.Duration(cfg.CheckIntervalSec) * time.Second,
		FailureThreshold: cfg.FailureThreshold,
		ProbeTimeout:     time.Duration(cfg.ProbeTimeoutSec) * time.Second,
	}, topo, cfg.Stages, cfg.PeerStages, logger)

	tapSvc := service.NewTapService(events, cards, registry, plugins, monitor, topo, service.TapPolicy{
		SessionID:      cfg.SessionID,
		StationID:      cfg.StationID,
		Grace:          time.Duration(cfg.GraceMinutes) * time.Minute,
		StrictSequence: cfg.StrictSequence,
	}, logger)

	corrections := service.NewCorrectionService(events, topo, plugins, cfg.SessionID, cfg.StationID, logger)
	scanner := anomaly.NewScanner(events, topo, anomCfg)
	stats := service.NewStatsService(events, topo, plugins)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:          logger,
		Addr:            cfg.HTTPAddr,
		StationID:       cfg.StationID,
		SessionID:       cfg.SessionID,
		TapService:      tapSvc,
		Corrections:     corrections,
		Scanner:         scanner,
		Stats:           stats,
		Events:          events,
		Monitor:         monitor,
		Plugins:         plugins,
		WriteRatePerMin: cfg.WriteRatePerMin,
		ReadRatePerMin:  cfg.ReadRatePerMin,
	})

	plugins.StartAll(&plugin.Context{
		Events:    events,
		Cards:     cards,
		SessionID: cfg.SessionID,
		StationID: cfg.StationID,
	})

	monitor.Start(ctx)
	defer monitor.Stop()

	pump := reader.NewPump(tapSvc, reader.LogSignaler{Logger: logger}, 32, logger)
	pump.Start(ctx)
	defer pump.Stop()
	if cfg.ReaderFIFO != "" {
		go feedFromFIFO(ctx, cfg.ReaderFIFO, pump, logger)
	}

	go func() {
		logger.Printf("listening on %s (station=%s session=%s stages=%v)",
			cfg.HTTPAddr, cfg.StationID, cfg.SessionID, cfg.Stages)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	plugins.ShutdownAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// feedFromFIFO tails the reader driver's named pipe, one uid per line.
// Reopens the pipe whenever the driver restarts.
func feedFromFIFO(ctx context.Context, path string, pump *reader.Pump, logger *log.Logger) {
	for ctx.Err() == nil {
		f, err := os.Open(path)
		if err != nil {
			logger.Printf("reader fifo: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			uid := sc.Text()
			if uid == "" {
				continue
			}
			pump.Offer(reader.Candidate{UID: uid})
		}
		_ = f.Close()
	}
}

func applyAnomalyThresholds(cfg *anomaly.Config, t config.AnomalyThresholds) {
	set := func(dst *time.Duration, minutes int) {
		if minutes > 0 {
			*dst = time.Duration(minutes) * time.Minute
		}
	}
	set(&cfg.ForgottenExitMedium, t.ForgottenExitMediumMin)
	set(&cfg.ForgottenExitHigh, t.ForgottenExitHighMin)
	set(&cfg.StuckInServiceMedium, t.StuckInServiceMedMin)
	set(&cfg.StuckInServiceHigh, t.StuckInServiceHighMin)
	set(&cfg.LongServiceAbsolute, t.LongServiceAbsoluteMin)
	set(&cfg.RapidFire, t.RapidFireMin)
}
