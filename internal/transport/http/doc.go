// Package http provides the HTTP transport layer for talking to remote
// repositories: a retrying client with per-call TLS verification, client
// certificate authentication and explicit proxy overrides, plus
// request/response logging and User-Agent header injection.
package http
