package main

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"linkgraph/internal/config"
	"linkgraph/internal/lock"
	"linkgraph/internal/logging"
	"linkgraph/internal/mesh"
	"linkgraph/internal/metrics"
	"linkgraph/internal/parser"
	"linkgraph/internal/repository/sqlite"
	"linkgraph/internal/service"
)

type locker interface {
	service.Locker
	Close() error
}

// app holds the wired components shared by every command
type app struct {
	log        *logging.Logger
	logger     *zap.Logger
	repo       *sqlite.Repository
	metrics    *metrics.Collector
	bus        *service.EventBus
	locker     locker
	topologies *service.TopologyService
	sweeper    *service.Sweeper
	mesh       *mesh.Aggregator
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	a := &app{log: log, logger: log.Logger}

	a.repo, err = sqlite.New(cfg.Database.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.logger.Debug("database opened", zap.String("path", cfg.Database.Path))

	a.metrics, err = metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	a.locker, err = newLocker(cfg.Lock, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := parser.NewDefaultRegistry(parser.Config{
		SSHKeyPath:  cfg.Parser.SSHKeyPath,
		SNMPRetries: cfg.Parser.SNMPRetries,
	}, a.logger)

	a.bus = service.NewEventBus()
	reconciler := service.NewReconciler(a.repo, registry,
		service.Sinks{a.bus, a.metrics},
		service.ReconcilerConfig{ParseTimeout: cfg.Parser.Timeout.Duration()},
		a.logger, service.WithMetrics(a.metrics))

	a.topologies = service.NewTopologyService(a.repo, reconciler, a.locker, a.bus, service.ServiceConfig{
		Concurrency:   cfg.Scheduler.Concurrency,
		LabelProperty: cfg.HTTP.LabelProperty,
	}, a.logger)

	a.sweeper = service.NewSweeper(a.repo, service.SweepConfig{
		LinkExpirationDays: cfg.Expiration.LinkDays,
		NodeExpirationDays: cfg.Expiration.NodeDays,
	}, a.metrics, a.logger)

	a.mesh, err = mesh.NewAggregator(a.repo, a.topologies, mesh.Config{
		Mode:           cfg.Mesh.Mode,
		Cutoff:         cfg.Mesh.Cutoff.Duration(),
		ExpirationTime: cfg.Mesh.ExpirationTime,
		CacheSize:      cfg.Mesh.CacheSize,
	}, a.metrics, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init mesh aggregator: %w", err)
	}

	return a, nil
}

func newLocker(cfg config.LockConfig, logger *zap.Logger) (locker, error) {
	switch cfg.Backend {
	case config.LockEtcd:
		l, err := lock.NewEtcdLocker(lock.EtcdConfig{
			Endpoints:   cfg.Endpoints,
			DialTimeout: cfg.DialTimeout.Duration(),
			TTL:         int(cfg.TTL.Duration().Seconds()),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect etcd: %w", err)
		}
		return l, nil
	default:
		return lock.NewLocalLocker(), nil
	}
}

// Close releases resources in reverse order of creation
func (a *app) Close() error {
	var errs []error
	if a.locker != nil {
		errs = append(errs, a.locker.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}
