package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/fieldbus-sim/rtusim/internal/api"
	"github.com/fieldbus-sim/rtusim/internal/api/middleware"
	"github.com/fieldbus-sim/rtusim/internal/config"
	"github.com/fieldbus-sim/rtusim/internal/events"
	"github.com/fieldbus-sim/rtusim/internal/logger"
	"github.com/fieldbus-sim/rtusim/internal/persist"
	"github.com/fieldbus-sim/rtusim/internal/server"
	"github.com/fieldbus-sim/rtusim/internal/telemetry"
)

var Version = "0.1.0"

func main() {
	configPath := os.Getenv("RTUSIM_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		LogDir:     cfg.Logger.LogDir,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   cfg.Logger.Compress,
	}); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	zlog := logger.Get()
	zlog.Info("rtusimd starting", zap.String("version", Version))

	sinks, closers := buildSinks(cfg, zlog)
	defer closeAll(closers)

	hub := events.New(sinks...)
	go hub.Run()
	defer hub.Stop()
	logger.SetEventSink(hub)

	store, err := persist.New(cfg.Persist.DataDir)
	if err != nil {
		zlog.Fatal("failed to init persistence store", zap.Error(err))
	}

	watcher, err := persist.WatchRoster(store, func() {
		hub.Infof("roster file changed on disk, reload on next restart")
	})
	if err != nil {
		zlog.Warn("roster hot-reload watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	srv, err := server.New(hub, store, cfg.Scheduler.BackupCron)
	if err != nil {
		zlog.Fatal("failed to construct server", zap.Error(err))
	}
	if err := srv.LoadState(); err != nil {
		zlog.Fatal("failed to load persisted state", zap.Error(err))
	}

	if cfg.S3.Bucket != "" {
		archiver, err := persist.NewS3Archiver(cfg.S3.Region, cfg.S3.Bucket, cfg.S3.Prefix)
		if err != nil {
			zlog.Warn("s3 snapshot archival disabled", zap.Error(err))
		} else {
			srv.SetArchiver(archiver)
		}
	}

	openPort := func() (server.Transport, error) {
		return openSerialPort(cfg.Serial)
	}

	if transport, err := openPort(); err != nil {
		zlog.Warn("serial port not available at startup, start it via the operator API", zap.Error(err))
	} else {
		srv.Start(transport)
		zlog.Info("serial transport started", zap.String("port", cfg.Serial.Port))
	}

	app := fiber.New(fiber.Config{AppName: "rtusim v" + Version})
	app.Use(recover.New())
	app.Use(fiberlog.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	handler := api.NewHandler(srv, hub, openPort, middleware.JWTConfig{
		SecretKey: cfg.API.JWTSecret,
		Issuer:    "rtusim",
	})
	handler.SetupRoutes(app)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	go func() {
		zlog.Info("operator API listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			zlog.Error("fiber listener stopped", zap.Error(err))
		}
	}()

	waitForShutdown()

	zlog.Info("shutting down")
	_ = app.ShutdownWithContext(context.Background())
	srv.Stop()
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func openSerialPort(cfg config.SerialConfig) (serial.Port, error) {
	mode := &serial.Mode{BaudRate: cfg.BaudRate, DataBits: cfg.DataBits}

	switch cfg.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch cfg.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	return serial.Open(cfg.Port, mode)
}

// buildSinks wires every optional telemetry/audit fan-out the config
// enables. Each sink is disabled by its own empty-string sentinel field.
// A bare config runs the WebSocket event stream plus the sqlite audit log,
// whose path has a default.
func buildSinks(cfg *config.Config, zlog *zap.Logger) ([]events.Sink, []closer) {
	var sinks []events.Sink
	var closers []closer

	sugar := zlog.Sugar()

	if cfg.Redis.Addr != "" {
		redisSink, err := events.NewRedisSink(events.RedisSinkConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, sugar)
		if err != nil {
			zlog.Warn("redis sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, redisSink)
			closers = append(closers, redisSink)
		}
	}

	if cfg.Persist.AuditDBPath != "" {
		audit, err := persist.OpenAuditLog(cfg.Persist.AuditDBPath)
		if err != nil {
			zlog.Warn("audit log disabled", zap.Error(err))
		} else {
			sinks = append(sinks, audit)
			closers = append(closers, audit)
		}
	}

	if cfg.MQTT.Broker != "" {
		mqttPub, err := telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
		}, sugar)
		if err != nil {
			zlog.Warn("mqtt telemetry disabled", zap.Error(err))
		} else {
			sinks = append(sinks, mqttPub)
			closers = append(closers, mqttPub)
		}
	}

	if cfg.Influx.URL != "" {
		influxWriter, err := telemetry.NewInfluxWriter(telemetry.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, sugar)
		if err != nil {
			zlog.Warn("influxdb telemetry disabled", zap.Error(err))
		} else {
			sinks = append(sinks, influxWriter)
			closers = append(closers, influxWriter)
		}
	}

	return sinks, closers
}

type closer interface {
	Close() error
}

func closeAll(closers []closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
