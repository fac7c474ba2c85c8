// Package telemetry provides observability instrumentation for historydb.
//
// The package integrates structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus), and change events into one bundle that the history
// store and the histdb command share.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Pass the pieces to the store:
//
//	store, err := stores.NewSQLiteStore(stores.Config{Path: "history.db"},
//	    stores.WithLogger(tel.Logger),
//	    stores.WithMetrics(tel.Metrics),
//	    stores.WithTracer(tel.Tracer),
//	    stores.WithEvents(tel.Events),
//	)
//
// # Metrics
//
// Metrics live in a private registry. Mount Metrics.Handler on a host
// application's mux to expose them; this package never listens itself.
//
// # Events
//
// Subscribe to history changes:
//
//	tel.Events.SubscribeType(telemetry.EventTypeTrimmed, func(e telemetry.Event) {
//	    fmt.Println(e.Message)
//	})
package telemetry
