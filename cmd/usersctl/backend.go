package main

import (
	"context"
	"io"

	"cloud.google.com/go/datastore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	ua "github.com/panyam/userauth"
	"github.com/panyam/userauth/config"
	"github.com/panyam/userauth/sinks"
	fsstore "github.com/panyam/userauth/stores/fs"
	gaestore "github.com/panyam/userauth/stores/gae"
	gormstore "github.com/panyam/userauth/stores/gorm"
	pgstore "github.com/panyam/userauth/stores/postgres"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var noopCloser = closerFunc(func() error { return nil })

// openStores connects the configured backend
func openStores(ctx context.Context, cfg config.StoreConfig) (ua.Stores, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendFS:
		return fsstore.NewStores(cfg.Path), noopCloser, nil

	case config.BackendPostgres:
		pool, err := pgstore.Open(ctx, cfg.DSN)
		if err != nil {
			return ua.Stores{}, nil, err
		}
		return pgstore.NewStores(pool), closerFunc(func() error { pool.Close(); return nil }), nil

	case config.BackendGORM:
		db, err := gormstore.Open(cfg.DSN)
		if err != nil {
			return ua.Stores{}, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return ua.Stores{}, nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
		return gormstore.NewStores(db), sqlDB, nil

	case config.BackendDatastore:
		client, err := datastore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return ua.Stores{}, nil, oops.Code("DB_CONNECT_FAILED").With("project_id", cfg.ProjectID).Wrap(err)
		}
		return gaestore.NewStores(client, cfg.Namespace), client, nil
	}
	return ua.Stores{}, nil, oops.Code(ua.CodeValidation).Wrapf(ua.ErrValidation, "unknown store backend %q", cfg.Backend)
}

// runtime is an opened backend plus the service built on it
type runtime struct {
	svc      *ua.Service
	registry *prometheus.Registry
	closers  []io.Closer
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i].Close()
	}
}

// newRuntime wires the event bus sinks and builds the service
func (a *app) newRuntime(ctx context.Context) (*runtime, error) {
	stores, closer, err := openStores(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}
	rt := &runtime{closers: []io.Closer{closer}}

	bus := ua.NewEventBus(a.logger)
	bus.Subscribe(sinks.NewLogSink(a.logger))
	if a.cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		bus.Subscribe(sinks.NewMetricsSink(rt.registry))
	}
	if a.cfg.AMQP.Enabled {
		pub, err := sinks.NewRabbitMQPublisher(a.cfg.AMQP.AMQPConfig)
		if err != nil {
			rt.Close()
			return nil, err
		}
		sink := sinks.NewAMQPSink(pub, a.cfg.AMQP.Prefix, sinks.WithLogger(a.logger))
		// closers run in reverse, so the sink drains before the connection goes
		rt.closers = append(rt.closers, pub, sink)
		bus.Subscribe(sink)
	}

	svc, err := ua.NewService(ua.Deps{
		Stores: stores,
		Events: bus,
		Mailer: &ua.LogMailer{Logger: a.logger},
		Logger: a.logger,
	}, a.cfg.Auth)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.svc = svc
	return rt, nil
}
