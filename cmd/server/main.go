package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/liasse-counter/internal/application"
	"github.com/eugenenazirov/liasse-counter/internal/config"
	"github.com/eugenenazirov/liasse-counter/internal/logging"
)

var signalNotify = signal.Notify

type cliFlags struct {
	configFile     *string
	port           *string
	target         *int
	logLevel       *string
	storageDriver  *string
	redisAddr      *string
	sqlitePath     *string
	rateLimitRPS   *float64
	rateLimitBurst *int
}

func newCLI() (*kingpin.Application, *cliFlags) {
	app := kingpin.New("liasse-counter", "Liasse counter - forms fixed-size bundles from piles of counted units")
	flags := &cliFlags{
		configFile:     app.Flag("config", "Path to YAML configuration file").String(),
		port:           app.Flag("port", "HTTP port exposed by the service").String(),
		target:         app.Flag("target", "Units per complete bundle").Default("0").Int(),
		logLevel:       app.Flag("log-level", "Log level (debug, info, warn, error)").String(),
		storageDriver:  app.Flag("storage", "Storage driver (memory, redis, sqlite)").String(),
		redisAddr:      app.Flag("redis-addr", "Redis address for the redis storage driver").String(),
		sqlitePath:     app.Flag("sqlite-path", "Database file for the sqlite storage driver").String(),
		rateLimitRPS:   app.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64(),
		rateLimitBurst: app.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int(),
	}
	return app, flags
}

// overrides turns parsed flags into config overrides, leaving unset flags nil.
func (f *cliFlags) overrides() *config.CLIOverrides {
	o := &config.CLIOverrides{ConfigFile: *f.configFile}

	if *f.port != "" {
		o.Port = f.port
	}
	if *f.target > 0 {
		o.Target = f.target
	}
	if *f.logLevel != "" {
		o.LogLevel = f.logLevel
	}
	if *f.storageDriver != "" {
		o.StorageDriver = f.storageDriver
	}
	if *f.redisAddr != "" {
		o.RedisAddr = f.redisAddr
	}
	if *f.sqlitePath != "" {
		o.SQLitePath = f.sqlitePath
	}
	if *f.rateLimitRPS >= 0 {
		o.RateLimitRPS = f.rateLimitRPS
	}
	if *f.rateLimitBurst >= 0 {
		o.RateLimitBurst = f.rateLimitBurst
	}
	return o
}

func main() {
	kingpinApp, flags := newCLI()
	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	cfg, err := config.Load(flags.overrides())
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), app, cfg.ShutdownGracePeriod, logger)
}

func shutdown(server *http.Server, resources io.Closer, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}

	if resources != nil {
		if err := resources.Close(); err != nil {
			logger.Error("failed to release resources", zap.Error(err))
		}
	}
}
