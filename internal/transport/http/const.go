package http

const (
	// DefaultUserAgent is the User-Agent string a request falls back to when
	// it reaches the transport without one. It matches the default identity
	// of the standard library's HTTP client.
	DefaultUserAgent = "Go-http-client/1.1"
)
