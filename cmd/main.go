/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/conn"
	"github.com/echomind/echomind/pkg/middleware"
	"github.com/echomind/echomind/pkg/routes"
	"github.com/echomind/echomind/pkg/services"
	"github.com/echomind/echomind/pkg/utils/safe"
	"github.com/echomind/echomind/pkg/utils/signal"
	"github.com/gin-gonic/gin"
)

func main() {
	slog.Info("starting echomind server...")

	slog.Info("loading configuration...")
	if err := config.Init(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		return
	}
	cfg := config.GetConfigManager().GetConfig()

	baseCtx, cancel := signal.SetupContext()
	defer cancel()

	slog.InfoContext(baseCtx, "initializing database connection...")
	if err := conn.InitDB(baseCtx, cfg.DB); err != nil {
		slog.ErrorContext(baseCtx, "failed to initialize database connection", "error", err)
		return
	}

	if err := services.GetJobService().BackfillLegacyEmbeddingStatus(baseCtx); err != nil {
		slog.ErrorContext(baseCtx, "failed to backfill legacy embedding status", "error", err)
		return
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RecoveryMiddleware())
	engine.Use(middleware.LoggingMiddleware())
	engine.Use(middleware.BasicAuthMiddleware(cfg.Auth))

	apiRoute := engine.Group("/api")
	v1Route := routes.GetV1Routes()
	if err := v1Route.RegisterRoutes(apiRoute.Group("/v1")); err != nil {
		slog.ErrorContext(baseCtx, "failed to register routes", "error", err)
		return
	}

	safe.GoSafeWithCtx("http-server", baseCtx, func(ctx context.Context) {
		port := cfg.Port
		slog.InfoContext(ctx, "starting http server", "port", port)
		if err := engine.Run(":" + strconv.Itoa(port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "failed to start http server", "error", err)
			return
		}
	})

	<-baseCtx.Done()
	slog.InfoContext(baseCtx, "shutting down server")
}
