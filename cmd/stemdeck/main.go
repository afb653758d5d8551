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

	"github.com/alecthomas/kong"
	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/config"
	"github.com/satindergrewal/stemdeck/internal/control"
	"github.com/satindergrewal/stemdeck/internal/engine"
	"github.com/satindergrewal/stemdeck/internal/logging"
	"github.com/satindergrewal/stemdeck/internal/source"
	"github.com/satindergrewal/stemdeck/internal/stream"
	"go.uber.org/zap"
)

// version is set via ldflags at build time.
var version = "dev"

var CLI struct {
	EnvFile  string `help:"Load environment variables from this file" default:".env" type:"path"`
	Port     int    `help:"HTTP listen port (overrides STEMDECK_PORT)"`
	LogLevel string `help:"Log level: debug, info, warn, error (overrides STEMDECK_LOG_LEVEL)"`
	Version  bool   `help:"Show version information"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("stemdeck"),
		kong.Description("Dual-deck stem mixing engine with a websocket control surface."),
		kong.Vars{"version": version},
		kong.UsageOnError(),
	)

	if CLI.Version {
		fmt.Printf("stemdeck %s\n", version)
		os.Exit(0)
	}

	if err := config.LoadEnvFile(CLI.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", CLI.EnvFile, err)
		os.Exit(1)
	}
	cfg := config.Load()
	if CLI.Port != 0 {
		cfg.Port = CLI.Port
	}
	if CLI.LogLevel != "" {
		cfg.LogLevel = CLI.LogLevel
	}

	log, err := logging.New(logging.Config{Level: cfg.LogLevel, OutputPath: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	os.Exit(serve(cfg, log))
}

// serve runs the service and returns the process exit code. The log is
// flushed before it returns since os.Exit skips deferred calls.
func serve(cfg config.Config, log *zap.Logger) int {
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("stemdeck stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("stemdeck starting", zap.String("version", version))

	fetcher, err := source.NewMulti(source.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		Region:    cfg.S3Region,
	}, log.Named("source"))
	if err != nil {
		return err
	}

	// Software backend renders the master mix; the monitor fans it out.
	backend := audio.NewSoft(log.Named("audio"))
	go backend.Run(ctx)

	monitor := stream.NewMonitor(log.Named("monitor"))
	go monitor.Run(ctx, backend.Frames())

	eng := engine.New(backend, fetcher, log.Named("engine"), engine.Options{
		TickInterval: cfg.TickInterval,
		FetchTimeout: cfg.FetchTimeout,
		Curve:        engine.ParseCurve(cfg.DefaultCurve),
	})
	defer eng.Close()

	srv := control.NewServer(ctx, eng, log.Named("control"))
	defer srv.Close()

	webrtcHandler := stream.NewWebRTCHandler(monitor, cfg.OpusBitrate, log.Named("webrtc"))
	defer webrtcHandler.Close()

	srv.Handle("/stream", stream.NewMP3Handler(monitor, cfg.MP3Bitrate, log.Named("mp3")), http.MethodGet)
	srv.Handle("/offer", webrtcHandler, http.MethodPost, http.MethodOptions)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		// monitor streams never go idle, so Shutdown may time out
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}()

	log.Info("stemdeck live",
		zap.String("addr", addr),
		zap.Duration("tick", cfg.TickInterval),
		zap.String("curve", cfg.DefaultCurve))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
