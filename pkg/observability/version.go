package observability

// Version is the service version reported by health checks and
// telemetry. Overridden at build time via -ldflags.
var Version = "dev"
