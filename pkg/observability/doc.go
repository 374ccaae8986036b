// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health probes for the permission service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stdout)
//	logger.WithField("tenant_id", tenantID).Info("permissions resolved")
//
// RequestLoggingMiddleware stores the logger and a request ID in the request
// context; FromContext returns a logger annotated with both.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordDecision("visitor-management", "approve", allowed)
//
// All recorder methods accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddDependency("postgres", observability.PingFunc(db.PingContext), true)
//
// # OpenTelemetry
//
//	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "resigate",
//	}, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
package observability
