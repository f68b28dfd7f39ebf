package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/alert"
	"github.com/BrandonDHaskell/Argus/internal/argus/behavior"
	"github.com/BrandonDHaskell/Argus/internal/argus/detect"
	"github.com/BrandonDHaskell/Argus/internal/argus/motion"
	"github.com/BrandonDHaskell/Argus/internal/argus/pipeline"
	"github.com/BrandonDHaskell/Argus/internal/argus/recorder"
	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/argus/source"
	"github.com/BrandonDHaskell/Argus/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/store/sqlite"
	"github.com/BrandonDHaskell/Argus/internal/argus/tamper"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/argus/zone"
	"github.com/BrandonDHaskell/Argus/internal/config"
	"github.com/BrandonDHaskell/Argus/internal/db"
	"github.com/BrandonDHaskell/Argus/internal/grpcapi"
	"github.com/BrandonDHaskell/Argus/internal/httpapi"
)

func main() {
	logger := log.New(os.Stdout, "argus-server ", log.LstdFlags|log.LUTC)
	if err := run(logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(logger *log.Logger) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	zones, err := cfg.ZoneDefinitions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.SyncZones(ctx, conn, zones); err != nil {
		return err
	}

	writer := db.NewWorker(conn)
	defer writer.Close()
	eventStore := sqlite.NewEventStore(conn, writer)
	zoneStore := sqlite.NewZoneStore(conn)

	hub := httpapi.NewHub(logger)
	events := service.NewEventLog(eventStore, cfg.AppendTimeout(), logger)
	events.OnAppend(hub.PublishEvent)

	pruner := service.NewRetentionPruner(eventStore, cfg.PrunerConfig(), logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// Analysis
	zoneMonitor, err := zone.NewMonitor(zones, cfg.Detector.Confidence)
	if err != nil {
		return err
	}
	gate := motion.New(cfg.MotionGateConfig())
	tamperMonitor := tamper.New(cfg.TamperMonitorConfig())

	learner := behavior.New(cfg.LearnerConfig())
	if err := learner.Load(); err != nil {
		if !errors.Is(err, behavior.ErrCorruptProfile) {
			return err
		}
		logger.Printf("behavior profile reset: %v", err)
		events.Record(ctx, store.SystemRecord(time.Now().UTC(), types.EventProfileReset, types.SeverityWarning,
			"behavior profile unreadable, starting empty", map[string]string{"error": err.Error()}))
	}

	// Recording
	manager, err := storage.NewManager(cfg.ManagerConfig())
	if err != nil {
		return err
	}
	if err := manager.Scan(); err != nil {
		return err
	}
	sweeper := storage.NewSweeper(manager, cfg.SweeperConfig(), logger)
	sweeper.Start(ctx)

	rec, err := recorder.New(cfg.RecorderConfig(), recorder.FFmpeg(cfg.Camera.FFmpeg), logger)
	if err != nil {
		return err
	}
	rec.Start(ctx)

	// Alerts
	channels := alert.Multi{alert.LogChannel{Logger: logger}, hub}
	if cfg.Alerts.MQTT.Broker != "" {
		mq := alert.NewMQTTChannel(alert.MQTTConfig{
			Broker:      cfg.Alerts.MQTT.Broker,
			ClientID:    cfg.Alerts.MQTT.ClientID,
			TopicPrefix: cfg.Alerts.MQTT.TopicPrefix,
			QoS:         cfg.Alerts.MQTT.QoS,
		}, logger)
		if err := mq.Connect(ctx); err != nil {
			logger.Printf("mqtt disabled: %v", err)
		} else {
			defer mq.Disconnect()
			channels = append(channels, mq)
		}
	}
	dispatcher := alert.NewDispatcher(channels, cfg.DispatcherConfig(), logger)
	dispatcher.Start(ctx)

	// Camera and detector
	src, err := source.NewFFmpeg(source.Config{
		Input:  cfg.Camera.Input,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
		Binary: cfg.Camera.FFmpeg,
		Finite: cfg.Camera.Finite,
	}, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	detector, err := detect.NewSubprocess(detect.SubprocessConfig{
		Command:     cfg.Detector.Command,
		Args:        cfg.Detector.Args,
		JPEGQuality: cfg.Detector.JPEGQuality,
	}, logger)
	if err != nil {
		return err
	}
	defer detector.Close()

	p, err := pipeline.New(pipeline.Dependencies{
		Source:   src,
		Detector: detector,
		Motion:   gate,
		Zones:    zoneMonitor,
		Tamper:   tamperMonitor,
		Learner:  learner,
		Recorder: rec,
		Storage:  manager,
		Sweeper:  sweeper,
		Alerts:   dispatcher,
		Events:   events,
		Logger:   logger,
	}, cfg.PipelineRunConfig())
	if err != nil {
		return err
	}

	// APIs
	httpSrv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger,
		Addr:    cfg.HTTPAddr,
		Status:  p,
		Control: p,
		Events:  eventStore,
		Zones:   zoneStore,
		Hub:     hub,
	})
	grpcSrv := grpcapi.NewServer(grpcapi.Dependencies{
		Logger: logger,
		Addr:   cfg.GRPCAddr,
		Health: p,
	})

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.Start(); err != nil {
			logger.Printf("http server error: %v", err)
			stop()
		}
	}()
	go func() {
		logger.Printf("grpc listening on %s", cfg.GRPCAddr)
		if err := grpcSrv.Start(ctx); err != nil {
			logger.Printf("grpc server error: %v", err)
			stop()
		}
	}()

	logger.Printf("watching %s with %d zone(s)", src, len(zones))
	if err := p.Run(ctx); err != nil {
		logger.Printf("pipeline error: %v", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	// Finish clips and flush events before the APIs and the database go.
	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Printf("pipeline shutdown: %v", err)
	}
	grpcSrv.Shutdown(shutdownCtx)
	_ = httpSrv.Shutdown(shutdownCtx)
	return nil
}
