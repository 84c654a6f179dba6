// Package requester dispatches outbound HTTP calls to remote repositories
// with the deployment's request policy applied: TLS verification against the
// configured CA bundle, client certificate authentication, proxy selection
// with pattern-based bypass, transport-level retries, timeout, and
// User-Agent tagging with call duration telemetry.
// Proxy decisions are passed to the transport explicitly per call, so the
// process environment is never mutated and one requester can be shared by
// concurrent callers.
package requester
