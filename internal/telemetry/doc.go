// Package telemetry provides OpenTelemetry tracing and metrics for autodevops.
//
// Telemetry is off by default. When enabled, spans and metrics are exported
// over OTLP (gRPC or HTTP) to a collector:
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("autodevops/pipeline")
//	ctx, span := tracer.Start(ctx, "autodevops.stage.review")
//	defer span.End()
//
// A disabled or degraded instance hands out the global no-op providers, so
// callers never need to check whether telemetry is on.
package telemetry
