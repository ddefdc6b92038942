// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/geoscope-ai/geoscope/services/llm"
	"github.com/geoscope-ai/geoscope/services/orchestrator/classifier"
	"github.com/geoscope-ai/geoscope/services/orchestrator/config"
	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
	"github.com/geoscope-ai/geoscope/services/orchestrator/handlers"
	"github.com/geoscope-ai/geoscope/services/orchestrator/observability"
	"github.com/geoscope-ai/geoscope/services/orchestrator/routes"
	"github.com/geoscope-ai/geoscope/services/orchestrator/stream"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer(otelEndpoint string) (func(context.Context), error) {
	ctx := context.Background()

	if otelEndpoint == "" {
		otelEndpoint = "geoscope-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("orchestrator-service")))
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

// newWeaviateClient parses the configured URL and connects, or returns nil
// for lightweight mode (streaming without persistence).
func newWeaviateClient(rawURL string) *weaviate.Client {
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" || !strings.Contains(rawURL, "http") {
		slog.Info("Weaviate URL not set or empty. Running in lightweight mode (streaming only).")
		return nil
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("Weaviate URL is invalid. Running in lightweight mode.",
			"url", rawURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}

	datatypes.EnsureWeaviateSchema(client)
	return client
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	cleanup, err := initTracer(cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	weaviateClient := newWeaviateClient(cfg.WeaviateURL)
	var store *datatypes.WeaviateStore
	if weaviateClient != nil {
		store = datatypes.NewWeaviateStore(weaviateClient, logger)
	}

	log.Println("Configuring the LLM Client")
	var llmClient llm.Client
	if openaiClient, err := llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, logger); err != nil {
		slog.Warn("LLM client unavailable, session summaries disabled", "error", err)
	} else {
		llmClient = openaiClient
	}

	tracer := otel.Tracer("orchestrator-service")
	httpClient := cfg.HTTPClient()

	proxy := stream.NewProxy(cfg, logger)
	inspector := classifier.NewHTTPInspector(cfg.InspectorURL, httpClient, logger)
	refiner := classifier.NewHTTPRefiner(cfg.RefineURL, httpClient, logger)
	cls := classifier.NewClassifier(inspector, refiner, logger)

	chatHandler := handlers.NewStreamingChatHandler(proxy, store, tracer, logger)
	scanHandler := handlers.NewDataScanHandler(cls, store, tracer, logger)

	router := gin.Default()
	router.Use(otelgin.Middleware("orchestrator-service"))

	routes.SetupRoutes(router, weaviateClient, store, chatHandler, scanHandler, llmClient)

	log.Println("Starting the orchestrator server on port ", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
