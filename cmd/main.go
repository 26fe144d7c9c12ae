package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "openfan_micro/docs"
	"openfan_micro/internal/config"
	"openfan_micro/internal/handlers"
	"openfan_micro/internal/logger"
	"openfan_micro/internal/metrics"
	"openfan_micro/internal/repository"
	"openfan_micro/internal/repository/db"
	"openfan_micro/internal/server"
	"openfan_micro/internal/service"
	"openfan_micro/internal/tempsource"
)

const shutdownTimeout = 10 * time.Second

// @title                       OpenFAN Micro controller API
// @version                     1.0
// @description                 Polling, temperature control and calibration of OpenFAN Micro fan controllers.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	configPath := flag.String("config", "", "path to config file (default configs/config.yml)")
	flag.Parse()

	// load config.yml
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	// open DB
	sqlDB, err := openDB(cfg.DB.Path, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// wire dependencies
	repos := repository.NewRepository(sqlDB)
	events := service.NewEventNotifier(repos.EventRepo, log)
	sources, closeSources := newSourceManager(cfg, log)
	defer closeSources()

	registry := service.NewRegistry(repos.DeviceRepo, sources, events,
		service.HTTPClientFactory(cfg.HTTP.RequestTimeout, log), log)
	for _, d := range cfg.Devices {
		if err := registry.Register(ctx, d.Settings()); err != nil {
			log.Fatalw("failed to register device", "device", d.ID, "err", err)
		}
	}

	services := service.NewService(service.Deps{
		Repos:      repos,
		Registry:   registry,
		Sources:    sources,
		Events:     events,
		SigningKey: cfg.Auth.SigningKey,
		TokenTTL:   cfg.Auth.TokenTTL,
	})
	promRegistry := metrics.NewRegistry(metrics.NewCollector(registry))
	apiHandler := handlers.NewHandler(services, metrics.Handler(promRegistry), log)

	// start poll/control loops and temperature sources
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Run(ctx)
	}()

	// start HTTP server
	srv := server.New(cfg.HTTP.WriteTimeout)
	runHTTPServer(srv, cfg.Port, apiHandler, log)
	log.Infow("service_started", "port", cfg.Port, "devices", len(cfg.Devices))

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
	wg.Wait()
}

// openDB initializes the SQLite database.
func openDB(path string, log *logger.Logger) (*sql.DB, error) {
	if path == "" {
		log.Infow("db.path not set in config; using default file", "default", config.DefaultDBPath)
		path = config.DefaultDBPath
	}
	return db.InitDB(path)
}

// newSourceManager connects the optional MQTT broker and host sensor reader.
func newSourceManager(cfg *config.Config, log *logger.Logger) (*tempsource.Manager, func()) {
	var (
		sub     tempsource.Subscriber
		sensors tempsource.SensorReader
		closeFn = func() {}
	)
	if cfg.MQTT.Enabled {
		client, err := tempsource.DialMQTT(tempsource.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		})
		if err != nil {
			log.Fatalw("failed to connect mqtt broker", "broker", cfg.MQTT.Broker, "err", err)
		}
		sub = client
		closeFn = client.Close
	}
	if cfg.Sensors.Enabled {
		sensors = tempsource.HostSensors{}
	}
	return tempsource.NewManager(sub, sensors, cfg.Sensors.PollInterval, log), closeFn
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
