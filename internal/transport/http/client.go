package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/manut/conan/internal/config"
	"github.com/manut/conan/internal/logger"
	"github.com/manut/conan/internal/utils"
)

// Static error definitions for better error handling.
var (
	// ErrSystemCertStoreUnavailable indicates that the OS certificate store was
	// requested but the runtime cannot supply it. This is a hard startup
	// failure: silently falling back would weaken the user's security intent.
	ErrSystemCertStoreUnavailable = errors.New("the system SSL certificate store cannot be used on this platform")
	// ErrInvalidCABundle indicates that the CA bundle file holds no parsable certificates.
	ErrInvalidCABundle = errors.New("CA bundle contains no valid certificates")
)

// systemCertPool resolves the OS trust store.
//
//nolint:gochecknoglobals // Swapped in tests to simulate platforms without a system trust store.
var systemCertPool = x509.SystemCertPool

// proxyOverride carries the dispatcher's explicit proxy decision for one call.
// An override with an empty proxy map means a forced direct connection.
type proxyOverride struct {
	proxies map[string]string
}

type proxyOverrideContextKey struct{}

// withProxyOverride attaches an explicit proxy decision to the context.
func withProxyOverride(ctx context.Context, override *proxyOverride) context.Context {
	return context.WithValue(ctx, proxyOverrideContextKey{}, override)
}

// proxyOverrideFromContext retrieves the explicit proxy decision, if any.
func proxyOverrideFromContext(ctx context.Context) (*proxyOverride, bool) {
	override, ok := ctx.Value(proxyOverrideContextKey{}).(*proxyOverride)

	return override, ok
}

// Client is the default transport implementation. It wraps a retrying HTTP
// client pair: one verifying server certificates against the configured CA
// bundle (and optionally the OS trust store), one with verification disabled.
// Proxy selection is taken from the per-call override carried in the request
// context, falling back to environment-based discovery when no override is set.
type Client struct {
	// cfg contains the application configuration.
	cfg *config.Config
	// clientCerts holds the loaded client certificate chain, empty when none is configured.
	clientCerts []tls.Certificate
	// systemPool is the OS trust store, nil unless use_system_certs is enabled.
	systemPool *x509.CertPool
	// insecure performs requests without server certificate verification.
	insecure *retryablehttp.Client
	// verifying performs requests verified against the CA bundle. Built on
	// first use because the bundle file is read lazily.
	verifying *retryablehttp.Client
	// verifyingOnce guards the lazy construction of the verifying client.
	verifyingOnce sync.Once
	// verifyingErr is the sticky bundle-loading failure, if any.
	verifyingErr error
}

// NewClient creates the default transport from the configuration and the
// resolved client certificate (nil when none is configured).
// It fails when the client certificate cannot be loaded, or when
// use_system_certs is set and the OS trust store is unavailable.
func NewClient(cfg *config.Config, clientCert *ClientCert) (*Client, error) {
	clientCerts, err := loadClientCertificates(clientCert)
	if err != nil {
		return nil, err
	}

	client := &Client{
		cfg:         cfg,
		clientCerts: clientCerts,
	}

	if cfg.UseSystemCerts {
		pool, poolErr := systemCertPool()
		if poolErr != nil || pool == nil {
			return nil, fmt.Errorf("%w: %v", ErrSystemCertStoreUnavailable, poolErr)
		}

		client.systemPool = pool
	}

	//nolint:gosec // Verification is explicitly disabled per call by the dispatcher.
	client.insecure = client.newRetryableClient(&tls.Config{
		InsecureSkipVerify: true,
		Certificates:       clientCerts,
	})

	return client, nil
}

// Do executes a single HTTP request with the given derived parameters and
// returns the transport's response unchanged. Transport-level failures
// (connection, TLS, timeout) propagate to the caller as-is.
func (c *Client) Do(
	ctx context.Context,
	method, rawURL string,
	body io.Reader,
	params RequestParams,
) (*http.Response, error) {
	client, err := c.client(params.CACertPath)
	if err != nil {
		return nil, err
	}

	if params.NoProxy || len(params.Proxies) > 0 {
		ctx = withProxyOverride(ctx, &proxyOverride{proxies: params.Proxies})
	}

	request, err := retryablehttp.NewRequestWithContext(ctx, strings.ToUpper(method), rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, values := range params.Headers {
		request.Header[name] = values
	}

	return client.Do(request)
}

// client picks the retrying client matching the call's verification mode.
func (c *Client) client(caCertPath string) (*retryablehttp.Client, error) {
	if caCertPath == "" {
		return c.insecure, nil
	}

	c.verifyingOnce.Do(func() {
		pool, err := c.buildVerifyingPool(caCertPath)
		if err != nil {
			c.verifyingErr = err

			return
		}

		c.verifying = c.newRetryableClient(&tls.Config{
			RootCAs:      pool,
			Certificates: c.clientCerts,
		})
	})

	if c.verifyingErr != nil {
		return nil, c.verifyingErr
	}

	return c.verifying, nil
}

// buildVerifyingPool loads the CA bundle into a certificate pool,
// seeded with the OS trust store when use_system_certs is enabled.
func (c *Client) buildVerifyingPool(caCertPath string) (*x509.CertPool, error) {
	var pool *x509.CertPool
	if c.systemPool != nil {
		pool = c.systemPool.Clone()
	} else {
		pool = x509.NewCertPool()
	}

	bundle, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}

	if !pool.AppendCertsFromPEM(bundle) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCABundle, caCertPath)
	}

	return pool, nil
}

// newRetryableClient builds a retrying HTTP client with the configured retry
// policy applied uniformly to both http and https requests.
func (c *Client) newRetryableClient(tlsConfig *tls.Config) *retryablehttp.Client {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if ok {
		transport = transport.Clone()
	} else {
		transport = &http.Transport{}
	}

	transport.TLSClientConfig = tlsConfig
	transport.Proxy = c.proxyForRequest

	client := retryablehttp.NewClient()
	client.RetryMax = int(c.cfg.RetryCount)
	client.RetryWaitMin = c.cfg.ParsedRetryWait
	client.RetryWaitMax = c.cfg.ParsedRetryWait
	client.Logger = retryLogger{}
	client.HTTPClient = &http.Client{
		Transport: NewUserAgentInjector(
			NewLogTransport(transport, 0),
			utils.NewSimpleUserAgentProvider(DefaultUserAgent)),
		Timeout: c.cfg.ParsedRequestTimeout,
	}

	return client
}

// proxyForRequest resolves the proxy for a single request. An explicit
// per-call override always wins; without one the environment decides.
func (c *Client) proxyForRequest(req *http.Request) (*url.URL, error) {
	override, ok := proxyOverrideFromContext(req.Context())
	if !ok {
		return http.ProxyFromEnvironment(req)
	}

	rawProxyURL := lookupProxy(override.proxies, req.URL.Scheme)
	if rawProxyURL == "" {
		// The dispatcher decided this request goes direct.
		return nil, nil
	}

	proxyURL, err := url.Parse(rawProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", rawProxyURL, err)
	}

	return proxyURL, nil
}

// lookupProxy finds the proxy configured for a scheme. Keys are accepted both
// bare ("https") and in their environment-variable form ("https_proxy").
func lookupProxy(proxies map[string]string, scheme string) string {
	for key, value := range proxies {
		normalized := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(key)), "_proxy")
		if normalized == scheme {
			return value
		}
	}

	return ""
}

// loadClientCertificates loads the client certificate pair. A missing key
// path means the certificate file bundles both certificate and key.
func loadClientCertificates(clientCert *ClientCert) ([]tls.Certificate, error) {
	if clientCert == nil {
		return nil, nil
	}

	keyFile := clientCert.KeyFile
	if keyFile == "" {
		keyFile = clientCert.CertFile
	}

	pair, err := tls.LoadX509KeyPair(clientCert.CertFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	return []tls.Certificate{pair}, nil
}

// retryLogger adapts the structured logger to the retrying client's interface.
type retryLogger struct{}

// Error logs a retry event at error level.
func (retryLogger) Error(msg string, keysAndValues ...any) {
	logger.Logger().Errorw(msg, keysAndValues...)
}

// Warn logs a retry event at warn level.
func (retryLogger) Warn(msg string, keysAndValues ...any) {
	logger.Logger().Warnw(msg, keysAndValues...)
}

// Info logs a retry event at info level.
func (retryLogger) Info(msg string, keysAndValues ...any) {
	logger.Logger().Infow(msg, keysAndValues...)
}

// Debug logs a retry event at debug level.
func (retryLogger) Debug(msg string, keysAndValues ...any) {
	logger.Logger().Debugw(msg, keysAndValues...)
}
