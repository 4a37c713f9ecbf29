// Package sinks provides ready-made subscribers for the userauth EventBus:
// structured logging, Prometheus counters and AMQP publishing.
//
//	bus := userauth.NewEventBus(logger)
//	bus.Subscribe(sinks.NewLogSink(logger))
//	bus.Subscribe(sinks.NewMetricsSink(prometheus.DefaultRegisterer))
package sinks
