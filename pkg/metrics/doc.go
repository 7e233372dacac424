/*
Package metrics provides Prometheus metrics and health checking for a
lanchat node.

The package exposes package-level collectors for the three core
subsystems: the secure channel (packets, handshakes, sessions, reconnect
timeouts), the message pipeline (sent / received / acked / demoted), and
the encrypted store (contacts, pending and unread totals, persist
latency). All collectors are registered in init; callers just increment.

# Collection

Channel and coordinator counters are incremented inline at the point the
event happens. Store gauges are sampled by a Collector, which polls any
StatsSource on a fixed interval:

	collector := metrics.NewCollector(st, 15*time.Second)
	collector.Start()
	defer collector.Stop()

# Exposition

Handler returns the standard promhttp handler; cmd/lanchatd mounts it at
/metrics alongside the health endpoints when --metrics-addr is set:

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

Readiness requires the critical components ("channel", "store") to have
registered healthy; liveness only proves the process is running.

# Timing

Timer is a small helper for observing operation latency:

	timer := metrics.NewTimer()
	// ... persist the blob ...
	timer.ObserveDuration(metrics.StorePersistDuration)
*/
package metrics
