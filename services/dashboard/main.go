// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/CairnHealthAI/CairnLocal/pkg/logging"
	"github.com/CairnHealthAI/CairnLocal/services/analysis"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/config"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/events"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/metrics"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/observability"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/pipeline"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/records"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/routes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/store"
)

const serviceName = "dashboard-service"

// initTracer wires the OTLP trace exporter. When no collector endpoint is
// configured the service runs untraced; spans fall back to the global
// no-op provider.
func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) {}, nil
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

// buildProviders constructs the analysis providers named in the cascade
// order. A provider that fails to construct (for example, a missing
// OpenAI key) is skipped with a warning so the service can still come up
// on the remaining providers.
func buildProviders(cfg config.ProvidersConfig) []analysis.Provider {
	var providers []analysis.Provider
	for _, name := range cfg.Order {
		var (
			provider analysis.Provider
			err      error
		)
		switch name {
		case "openai":
			provider, err = analysis.NewOpenAIProvider(analysis.OpenAIProviderConfig{
				Model:             cfg.OpenAI.Model,
				RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
			})
		case "ollama":
			provider, err = analysis.NewOllamaProvider(analysis.OllamaProviderConfig{
				BaseURL: cfg.Ollama.BaseURL,
				Model:   cfg.Ollama.Model,
			})
		case "heuristic":
			provider = analysis.NewHeuristicProvider()
		}
		if err != nil {
			slog.Warn("Skipping analysis provider", "provider", name, "error", err)
			continue
		}
		providers = append(providers, provider)
	}
	return providers
}

func pipelineConfigFrom(cfg config.PipelineConfig) pipeline.Config {
	return pipeline.Config{
		Checkpoints: pipeline.Checkpoints{
			Accepted:     cfg.CheckpointAccepted,
			Analysis:     cfg.CheckpointAnalysis,
			Similarity:   cfg.CheckpointSimilarity,
			Consultation: cfg.CheckpointConsultation,
			Completed:    100,
		},
		PatternThreshold:      cfg.PatternThreshold,
		SimilarityThreshold:   cfg.SimilarityThreshold,
		RareDiseaseConfidence: cfg.RareDiseaseConfidence,
		EstimateHorizon:       cfg.EstimateHorizon,
		StageDelay:            cfg.StageDelay,
	}
}

func retentionPolicyFrom(cfg config.RetentionConfig) store.RetentionPolicy {
	policy := store.DefaultRetentionPolicy()
	if cfg.InsightTTL > 0 {
		policy.InsightTTL = cfg.InsightTTL
	}
	if cfg.NotificationTTL > 0 {
		policy.NotificationTTL = cfg.NotificationTTL
	}
	if cfg.CaseStatusTTL > 0 {
		policy.CaseStatusTTL = cfg.CaseStatusTTL
	}
	return policy
}

func main() {
	cfg, err := config.Load(os.Getenv("CAIRN_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load the configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.LogDir,
		Service: serviceName,
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// --- Core wiring: dispatcher -> store -> analysis -> pipeline ---
	dispatcher := events.NewDispatcher(logger.Slog())
	st := store.New(dispatcher, nil, logger.Slog())
	st.SetRetentionPolicy(retentionPolicyFrom(cfg.Retention))

	providers := buildProviders(cfg.Providers)
	if len(providers) == 0 {
		log.Fatal("no analysis providers could be constructed")
	}
	order := providerNames(providers)
	primary := cfg.Providers.Primary
	if !contains(order, primary) {
		slog.Warn("configured primary provider unavailable, promoting the first in the cascade",
			"configured", primary, "promoted", order[0])
		primary = order[0]
	}
	manager, err := analysis.NewManager(analysis.ManagerConfig{
		Primary:     primary,
		Order:       order,
		CallTimeout: cfg.Providers.CallTimeout,
	}, providers, logger.Slog())
	if err != nil {
		log.Fatalf("failed to build the analysis manager: %v", err)
	}

	outcomes := pipeline.NewRandomOutcomeSource(time.Now().UnixNano(),
		cfg.Pipeline.ConsultationRate, 0)
	pipe := pipeline.New(manager, st, dispatcher, outcomes,
		pipelineConfigFrom(cfg.Pipeline), logger.Slog())
	defer pipe.Close()

	// --- Case record registry, fed from terminal case events ---
	registry, err := records.Open(cfg.Registry.Path, logger.Slog())
	if err != nil {
		log.Fatalf("failed to open the case record registry: %v", err)
	}
	defer registry.Close()
	dispatcher.Subscribe(registry.HandleEvent)

	// --- Metrics aggregator and its collaborators ---
	var jobQueue metrics.JobQueueSource
	if cfg.Metrics.JobQueueURL != "" {
		jobQueue = metrics.NewHTTPJobQueueClient(cfg.Metrics.JobQueueURL, cfg.Metrics.QueryTimeout)
	} else {
		slog.Warn("job queue URL not configured, running with degraded queue metrics")
	}
	var probe metrics.NetworkProbe
	if cfg.Metrics.NetworkRPCURL != "" {
		probe = metrics.NewJSONRPCProbe(cfg.Metrics.NetworkRPCURL, cfg.Metrics.QueryTimeout)
	} else {
		slog.Warn("network RPC URL not configured, running with degraded uptime metrics")
	}
	aggregator := metrics.NewAggregator(registry, jobQueue, probe, pipe, st, dispatcher,
		metrics.Config{
			RefreshInterval: cfg.Metrics.RefreshInterval,
			QueryTimeout:    cfg.Metrics.QueryTimeout,
		}, logger.Slog())

	retention := store.NewRetentionScheduler(st, store.RetentionSchedulerConfig{
		Interval: cfg.Retention.SweepInterval,
	}, logger.Slog())

	// --- Config hot reload for the runtime tunables ---
	watcher, err := config.NewWatcher(os.Getenv("CAIRN_CONFIG_PATH"), func(next config.Config) {
		pipe.SetConfig(pipelineConfigFrom(next.Pipeline))
		st.SetRetentionPolicy(retentionPolicyFrom(next.Retention))
		slog.Info("applied reloaded runtime tunables")
	}, logger.Slog())
	if err != nil {
		log.Fatalf("failed to start the config watcher: %v", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := aggregator.Start(ctx); err != nil {
		log.Fatalf("failed to start the metrics aggregator: %v", err)
	}
	defer aggregator.Stop()
	if err := retention.Start(ctx); err != nil {
		log.Fatalf("failed to start the retention scheduler: %v", err)
	}
	defer retention.Stop()
	watcher.Start(ctx)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, st, pipe, aggregator, dispatcher)

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("Starting the dashboard server", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutting down the dashboard server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("dashboard service exited with error: %v", err)
	}
}

func providerNames(providers []analysis.Provider) []string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	return names
}

func contains(names []string, want string) bool {
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}
