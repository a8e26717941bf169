// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/broadcast"
	"github.com/seqlab/annohub/services/annotation/executor"
	"github.com/seqlab/annohub/services/annotation/handlers"
	"github.com/seqlab/annohub/services/annotation/middleware"
	"github.com/seqlab/annohub/services/annotation/store"
)

func SetupRoutes(router *gin.Engine, exec *executor.Executor, db store.Store,
	hub *broadcast.Hub, provider middleware.IdentityProvider,
	reg *prometheus.Registry, log *logging.Logger) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	changeHandler := handlers.NewChangeHandler(exec, log)
	assemblyHandler := handlers.NewAssemblyHandler(db, hub, log)
	wsHandler := handlers.NewWebSocketHandler(hub, log)

	// API version 1 group; everything under it is authenticated.
	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(provider))
	{
		v1.POST("/changes", changeHandler.Submit)
		v1.POST("/changes/:id/revert", changeHandler.Revert)
		v1.GET("/changes", changeHandler.History)
		v1.GET("/changes/types", changeHandler.Types)
		v1.GET("/checks/:featureId", changeHandler.Reports)

		v1.GET("/assemblies", assemblyHandler.List)
		v1.GET("/assemblies/:id", assemblyHandler.Get)
		v1.GET("/assemblies/:id/features", assemblyHandler.Features)
		v1.GET("/assemblies/:id/collaborators", assemblyHandler.Collaborators)
		v1.GET("/features/:id", assemblyHandler.Feature)

		v1.GET("/ws", wsHandler.Serve)
	}
}
