// Package companion serves the local HTTP endpoint used by IDE extensions.
//
// The IDE pushes workspace trust changes with POST /trust; they are published to
// subscribers and take precedence over the trust environment variable. GET /storage
// reports the credential backend in use and GET /metrics exposes Prometheus metrics.
// Every route except GET /healthz only accepts loopback clients.
package companion
