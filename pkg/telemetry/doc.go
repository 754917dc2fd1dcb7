// Package telemetry provides the observability plumbing of modelsync:
// structured logging (zerolog), tracing (OpenTelemetry), Prometheus metrics
// and an in-process event publisher for synchronization passes.
//
// # Usage
//
// Initialize telemetry at startup and hand its parts to the synchronizer:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	sync, err := engine.NewSynchronizer(engine.SynchronizerConfig{
//	    // ...
//	    Events:  tel.Events,
//	    Metrics: tel.Metrics,
//	    Logger:  tel.Logger.Zerolog(),
//	})
//
// # Metrics
//
// Metrics implements engine.MetricsRecorder. The collectors are:
//
//	modelsync_passes_total{mode,status}
//	modelsync_pass_duration_seconds{mode}
//	modelsync_operations_total{bucket}
//	modelsync_unresolved_addresses_total
//	modelsync_last_pass_timestamp_seconds
//
// Serve exposes them over HTTP until its context is cancelled.
//
// # Events
//
// EventPublisher implements engine.EventPublisher. Subscribers receive
// events in publication order:
//
//	tel.Events.Subscribe(func(e engine.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// # Tracing
//
// NewTracer installs the global provider. Spans started by the engine through
// otel.Tracer are exported with the configured exporter (otlp or stdout).
package telemetry
