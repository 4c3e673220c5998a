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

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hatsunemiku3939/eventgateway/config"
	"github.com/hatsunemiku3939/eventgateway/gateway"
	"github.com/hatsunemiku3939/eventgateway/httpapi"
	"github.com/hatsunemiku3939/eventgateway/publisher"
	"github.com/hatsunemiku3939/eventgateway/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.DebugMode)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := buildStorage(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	pub, closePublisher, err := buildPublisher(cfg.Gateway.Publisher, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	var opts []gateway.Option
	if cfg.Gateway.SamplingEnabled {
		opts = append(opts, gateway.WithSampling(cfg.Gateway.SamplingThreshold))
	}
	var gw gateway.Gateway = gateway.New(storage, pub, logger, opts...)
	if cfg.Gateway.MetricsEnabled {
		gw, err = gateway.NewMeteredGateway(gw, prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}

	api := httpapi.NewServer(gw, cfg.API.Prefix, prometheus.DefaultGatherer, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildStorage(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Storage, func(), error) {
	noop := func() {}
	switch cfg.Type {
	case config.DatabaseInMemory:
		if cfg.InitialDataPath != "" {
			data, err := os.ReadFile(cfg.InitialDataPath)
			if err != nil {
				return nil, nil, fmt.Errorf("reading initial data: %w", err)
			}
			s, err := store.NewInMemoryStorageFromJSON(data)
			if err != nil {
				return nil, nil, err
			}
			return s, noop, nil
		}
		return store.NewInMemoryStorage(), noop, nil

	case config.DatabaseFile:
		return store.NewFileStorage(cfg.Path), noop, nil

	case config.DatabasePostgres:
		pg, err := store.NewPostgresStorage(ctx, cfg.ConnectionString, logger)
		if err != nil {
			return nil, nil, err
		}
		if !cfg.CacheEnabled {
			return pg, pg.Close, nil
		}
		interval := time.Duration(cfg.CacheRefreshIntervalSecs) * time.Second
		cached, err := store.NewCachedStorage(ctx, pg, interval, logger)
		if err != nil {
			pg.Close()
			return nil, nil, err
		}
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "storage_cache_degraded",
			Help: "1 when the storage cache failed its last refresh and is serving a stale snapshot.",
		}, func() float64 {
			if cached.Degraded() {
				return 1
			}
			return 0
		}))
		return cached, func() {
			cached.Close()
			pg.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown database.type %q", cfg.Type)
	}
}

func buildPublisher(cfg config.PublisherConfig, logger *zap.Logger) (publisher.Publisher, func(), error) {
	noop := func() {}
	switch cfg.Type {
	case config.PublisherNoOp:
		return publisher.NewNoOpPublisher(logger), noop, nil
	case config.PublisherKafka:
		p, err := publisher.NewKafkaPublisher(cfg.Kafka, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("closing kafka publisher", zap.Error(err))
			}
		}, nil
	case config.PublisherMQTT:
		p, err := publisher.NewMQTTPublisher(cfg.MQTT, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown publisher type %q", cfg.Type)
	}
}
