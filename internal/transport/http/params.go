package http

import (
	"net/http"
	"time"
)

// ClientCert describes the client certificate presented to servers.
type ClientCert struct {
	// CertFile is the path to the certificate file.
	// When KeyFile is empty, the file holds both certificate and private key.
	CertFile string
	// KeyFile is the path to the private key file.
	KeyFile string
}

// RequestParams is the full set of derived parameters for a single transport
// call. It is assembled per call by the dispatcher from its static
// configuration and the caller's options.
type RequestParams struct {
	// CACertPath enables server certificate verification against the bundle
	// at this path. An empty string disables verification entirely.
	CACertPath string
	// ClientCert is the client certificate to present, nil when none is configured.
	ClientCert *ClientCert
	// Proxies maps a scheme to the proxy URL the request must go through.
	// Nil means no explicit proxy selection for this call.
	Proxies map[string]string
	// NoProxy forces a direct connection, overriding any environment-based
	// proxy discovery the transport would otherwise perform.
	NoProxy bool
	// Timeout bounds the whole call, including reading the response body.
	// Zero means no timeout. The default transport enforces it through its
	// underlying HTTP client rather than per request, so transports injected
	// for tests see the value without having to act on it.
	Timeout time.Duration
	// Headers are the headers attached to the request.
	Headers http.Header
}
