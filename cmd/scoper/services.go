package main

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/hpungsan/scoper/internal/config"
	"github.com/hpungsan/scoper/internal/dispatch"
	"github.com/hpungsan/scoper/internal/engine"
	"github.com/hpungsan/scoper/internal/gateway"
	"github.com/hpungsan/scoper/internal/logging"
	"github.com/hpungsan/scoper/internal/metrics"
	"github.com/hpungsan/scoper/internal/store"
)

// services holds everything the commands share. The conversation engine is
// built on first use so archive-only commands never need an API key.
type services struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	metrics *metrics.Recorder

	newGateway func(*config.Config, gateway.Deps) (gateway.Gateway, error)

	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	closers    []func()
}

func newServices(cfg *config.Config, logger *zap.Logger, database *sql.DB) *services {
	return &services{
		cfg:        cfg,
		logger:     logging.OrNop(logger),
		db:         database,
		metrics:    metrics.New(),
		newGateway: gateway.New,
	}
}

// conversations builds the gateway, store, engine and dispatcher once.
func (s *services) conversations(ctx context.Context) error {
	if s.engine != nil {
		return nil
	}

	gw, err := s.newGateway(s.cfg, gateway.Deps{Metrics: s.metrics, Logger: s.logger})
	if err != nil {
		return fmt.Errorf("language model: %w", err)
	}

	pipeline, err := s.pipeline(ctx)
	if err != nil {
		return err
	}

	st := store.New(store.WithSizeObserver(s.metrics.SetActive))
	s.engine = engine.New(st, gw,
		engine.WithLogger(s.logger),
		engine.WithMetrics(s.metrics),
	)
	s.dispatcher = dispatch.New(s.engine, pipeline,
		dispatch.WithLogger(s.logger),
		dispatch.WithMetrics(s.metrics),
		dispatch.WithArchive(s.db),
	)
	return nil
}

// pipeline publishes to JetStream when nats_url is set, and only logs otherwise.
func (s *services) pipeline(ctx context.Context) (dispatch.Pipeline, error) {
	if s.cfg.NATSURL == "" {
		s.logger.Info("nats_url not set, pipeline handoffs are logged only")
		return dispatch.LogPipeline{Logger: s.logger}, nil
	}

	p, closeFn, err := dispatch.ConnectNATS(ctx, s.cfg.NATSURL, s.cfg.NATSSubjectPrefix, s.logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeFn)
	s.logger.Info("pipeline connected", zap.String("url", s.cfg.NATSURL), zap.String("stream", dispatch.StreamName))
	return p, nil
}

// Close releases connections in reverse order of acquisition.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
