package internaldefs

import (
	"github.com/tokamak-auth/tokamak"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   tokamak.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   tokamak.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: tokamak.MetricLoginSuccess, Name: "tokamak_login_success_total", Help: "Successful login attempts."},
	{ID: tokamak.MetricLoginFailure, Name: "tokamak_login_failure_total", Help: "Failed login attempts."},
	{ID: tokamak.MetricLoginRateLimited, Name: "tokamak_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: tokamak.MetricRegisterSuccess, Name: "tokamak_register_success_total", Help: "Successful registrations."},
	{ID: tokamak.MetricRegisterDuplicate, Name: "tokamak_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: tokamak.MetricTokenIssued, Name: "tokamak_token_issued_total", Help: "Token families minted by login or registration."},
	{ID: tokamak.MetricRefreshSuccess, Name: "tokamak_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: tokamak.MetricRefreshFailure, Name: "tokamak_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: tokamak.MetricRefreshReuseDetected, Name: "tokamak_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: tokamak.MetricRefreshRateLimited, Name: "tokamak_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: tokamak.MetricTokenRevoked, Name: "tokamak_token_revoked_total", Help: "Single-token revocations."},
	{ID: tokamak.MetricFamilyCompromised, Name: "tokamak_family_compromised_total", Help: "Token families burned by reuse detection."},
	{ID: tokamak.MetricLogout, Name: "tokamak_logout_total", Help: "Single-session logout operations."},
	{ID: tokamak.MetricLogoutAll, Name: "tokamak_logout_all_total", Help: "Logout-all operations."},
}

var HistogramDefs = []HistogramDef{
	{ID: tokamak.MetricVerifyLatency, Name: "tokamak_verify_latency_seconds", Help: "Access token verification latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's fixed latency
// buckets, rendered the way Prometheus expects them.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with characters legal in a
// metric name, used by the OTel exporter's per-bucket gauges.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form the
// exposition formats require.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
