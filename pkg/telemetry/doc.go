// Package telemetry provides logging, tracing and metrics for viva.
//
// Logging uses zerolog, tracing uses OpenTelemetry with stdout or OTLP/gRPC exporters, and metrics
// are Prometheus collectors on a private registry:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("environments").WithEnvID("default").Zerolog()
//	logger.Info().Msg("Environment synced")
//
// Sync and materializer calls are wrapped in "env.sync" and "env.materialize" spans and app merges
// in "app.merge" spans. Sync outcomes are counted by Metrics.RecordSync and
// Metrics.RecordMaterializerError.
package telemetry
