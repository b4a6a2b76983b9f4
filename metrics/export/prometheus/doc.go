// Package prometheus renders engine metrics in Prometheus text exposition
// format.
//
// [NewExporter] accepts a [tokamak.Engine] and exposes an [http.Handler]
// that renders all counters and histograms. Counter names are prefixed
// tokamak_*_total; the single histogram is tokamak_verify_latency_seconds.
//
// The package never registers anything in a global Prometheus registry;
// callers mount the Handler wherever they serve metrics.
package prometheus
