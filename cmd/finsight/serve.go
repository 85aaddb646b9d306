// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/Finsight/pkg/cache"
	"github.com/AleutianAI/Finsight/pkg/logging"
	"github.com/AleutianAI/Finsight/services/insights/analyzer"
	"github.com/AleutianAI/Finsight/services/insights/config"
	"github.com/AleutianAI/Finsight/services/insights/handlers"
	"github.com/AleutianAI/Finsight/services/insights/observability"
	"github.com/AleutianAI/Finsight/services/insights/patterns"
	"github.com/AleutianAI/Finsight/services/insights/routes"
	"github.com/AleutianAI/Finsight/services/insights/storage"
	"github.com/AleutianAI/Finsight/services/llm"
)

const serviceName = "finsight-insights"

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: "insights",
		JSON:    cfg.Log.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if cfg.Otel.Enabled {
		cleanup, err := initTracer(cfg.Otel.Endpoint)
		if err != nil {
			return fmt.Errorf("setting up the OTLP tracer: %w", err)
		}
		defer cleanup(context.Background())
	}

	observability.InitMetrics()

	// Mongo is optional at startup: the service comes up degraded and
	// health reports it, so a slow database never blocks deployment.
	var store *storage.Store
	var patternStore *storage.PatternStore
	storageCfg := storage.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	client, err := storage.Connect(ctx, storageCfg)
	cancel()
	if err != nil {
		logger.Warn("mongo unavailable at startup, running degraded", "error", err.Error())
	} else {
		store = storage.NewStore(client, storageCfg, logger)
		patternStore = storage.NewPatternStore(client, storageCfg, logger)
		idxCtx, idxCancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := patternStore.EnsureIndexes(idxCtx); err != nil {
			logger.Warn("pattern index creation failed", "error", err.Error())
		}
		idxCancel()
		defer func() {
			discCtx, discCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer discCancel()
			_ = client.Disconnect(discCtx)
		}()
	}

	responseCache, err := cache.New(cache.DefaultConfig())
	if err != nil {
		return fmt.Errorf("opening response cache: %w", err)
	}
	defer responseCache.Close()

	manager, err := llm.NewManager(logger.Slog(), cfg.LLM.RequireProvider)
	if err != nil {
		return fmt.Errorf("initializing llm providers: %w", err)
	}

	// Assign through locally typed interfaces so a nil *Store never
	// becomes a non-nil interface value downstream.
	var queryAnalyzer handlers.QueryAnalyzer
	var learnedPatterns patterns.PatternStore
	if store != nil {
		queryAnalyzer = analyzer.New(store, manager, responseCache, logger)
		learnedPatterns = patternStore
	}

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(router, queryAnalyzer, store, learnedPatterns, manager, responseCache)

	logger.Info("starting the insights server", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
