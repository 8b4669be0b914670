// Package observability provides logging, Prometheus metrics, OpenTelemetry
// tracing, health checks and graceful shutdown for the plugin manager.
//
// # Logging
//
//	logger := observability.NewLogger("info", "text", os.Stderr)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithField("plugin_id", id).Info("Installed")
//
// # Metrics
//
// Metrics methods are safe on a nil *Metrics, so components take one optionally:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordOperation("install", "success", time.Since(start))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Tracing
//
// Spans come from Tracer(). They are no-ops until InitOTel installs an OTLP
// exporter:
//
//	providers, err := observability.InitOTel(ctx, cfg.OTel, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
