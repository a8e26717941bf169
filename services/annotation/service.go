// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package annotation wires the collaborative genome annotation service:
// badger-backed feature store, change executor, websocket broadcast hub,
// GFF3 mirror and the HTTP API on top of them.
package annotation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/broadcast"
	"github.com/seqlab/annohub/services/annotation/changes"
	"github.com/seqlab/annohub/services/annotation/checks"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/executor"
	"github.com/seqlab/annohub/services/annotation/middleware"
	"github.com/seqlab/annohub/services/annotation/mirror"
	"github.com/seqlab/annohub/services/annotation/observability"
	"github.com/seqlab/annohub/services/annotation/routes"
	"github.com/seqlab/annohub/services/annotation/store"
	"github.com/seqlab/annohub/services/annotation/validation"
)

// Service is the assembled annotation server.
type Service struct {
	cfg      Config
	log      *logging.Logger
	db       *store.Badger
	hub      *broadcast.Hub
	exec     *executor.Executor
	exporter *mirror.Exporter
	router   *gin.Engine
}

// NewService builds the full dependency graph from config.
func NewService(cfg Config, log *logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Default()
	}

	db, err := store.Open(store.DefaultOptions(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Each service carries its own registry so two instances in one
	// process (tests) never collide on metric registration.
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	hub := broadcast.NewHub(log, metrics)

	var exporter *mirror.Exporter
	var mirrorDep executor.Mirror
	if cfg.MirrorDir != "" {
		exporter, err = mirror.NewExporter(cfg.MirrorDir, db, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		mirrorDep = exporter
	}

	exec, err := executor.New(executor.Options{
		Registry:   changes.NewDefaultRegistry(),
		Store:      db,
		Validation: validation.NewDefaultSet(nil),
		Checks:     checks.NewDefaultRunner(),
		Publisher:  hub,
		Mirror:     mirrorDep,
		Metrics:    metrics,
		Logger:     log,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	provider, err := buildProvider(cfg.Auth)
	if err != nil {
		db.Close()
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, exec, db, hub, provider, reg, log)

	return &Service{
		cfg:      cfg,
		log:      log.With("service", "annotation"),
		db:       db,
		hub:      hub,
		exec:     exec,
		exporter: exporter,
		router:   router,
	}, nil
}

func buildProvider(cfg AuthConfig) (middleware.IdentityProvider, error) {
	switch cfg.Mode {
	case "jwt":
		return middleware.NewJWTProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	case "static":
		tokens := make(map[string]datatypes.Identity, len(cfg.StaticTokens))
		for token, spec := range cfg.StaticTokens {
			parts := strings.SplitN(spec, ":", 3)
			if len(parts) != 3 {
				return nil, fmt.Errorf("static token %q: want userId:name:role", spec)
			}
			role := datatypes.Role(parts[2])
			if !role.Valid() {
				return nil, fmt.Errorf("static token for %s: unknown role %q", parts[0], parts[2])
			}
			tokens[token] = datatypes.Identity{UserID: parts[0], Name: parts[1], Role: role}
		}
		return middleware.NewStaticProvider(tokens), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// Executor exposes the change pipeline for in-process callers (CLI).
func (s *Service) Executor() *executor.Executor { return s.exec }

// Handler exposes the HTTP API; used by tests to serve on an ephemeral port.
func (s *Service) Handler() http.Handler { return s.router }

// Store exposes the feature store for in-process callers.
func (s *Service) Store() *store.Badger { return s.db }

// Hub exposes the broadcast hub; used by tests to observe presence.
func (s *Service) Hub() *broadcast.Hub { return s.hub }

// Run serves until ctx is cancelled, then shuts down gracefully within
// the configured grace period.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.router,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("annotation service listening", "addr", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.hub.RunJanitor(ctx, 0)
		return nil
	})

	if s.exporter != nil {
		g.Go(func() error {
			if err := s.exporter.ExportAll(ctx); err != nil {
				s.log.Warn("initial mirror export failed", "error", err)
			}
			watcher := mirror.NewWatcher(s.exporter, s.cfg.MirrorReconcileInterval)
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := s.db.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
