package requester

//go:generate $MOCKGEN -source=requester.go -destination=mocks/requester_mock.go

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"

	"github.com/manut/conan/internal/cacert"
	"github.com/manut/conan/internal/config"
	"github.com/manut/conan/internal/logger"
	"github.com/manut/conan/internal/telemetry"
	http_transport "github.com/manut/conan/internal/transport/http"
	"github.com/manut/conan/internal/utils"
	"github.com/manut/conan/internal/version"
)

// Requester defines the interface for dispatching HTTP calls to remote repositories.
type Requester interface {
	// Get performs a GET request to the given URL.
	Get(ctx context.Context, url string, opts *RequestOptions) (*http.Response, error)
	// Put performs a PUT request to the given URL.
	Put(ctx context.Context, url string, opts *RequestOptions) (*http.Response, error)
	// Post performs a POST request to the given URL.
	Post(ctx context.Context, url string, opts *RequestOptions) (*http.Response, error)
	// Delete performs a DELETE request to the given URL.
	Delete(ctx context.Context, url string, opts *RequestOptions) (*http.Response, error)
}

// Transport executes a fully parameterized HTTP call. The default
// implementation lives in the transport package; tests inject their own.
type Transport interface {
	// Do sends one request and returns the response unchanged.
	Do(
		ctx context.Context,
		method, rawURL string,
		body io.Reader,
		params http_transport.RequestParams,
	) (*http.Response, error)
}

// RequestOptions carries the caller's per-call choices.
type RequestOptions struct {
	// Verify enables server certificate verification against the CA bundle.
	// Anything else, including a nil options struct, disables verification.
	Verify bool
	// Headers are extra request headers. The User-Agent header is always
	// overwritten with the client's own identity.
	Headers http.Header
	// Body is the request body, usually for PUT and POST.
	Body io.Reader
}

const (
	// proxyBypassKey is the reserved proxy map entry holding comma-separated
	// URL glob patterns dispatched without a proxy.
	proxyBypassKey = "no_proxy_match"
	// deprecatedNoProxyKey is the legacy single-value bypass entry.
	deprecatedNoProxyKey = "no_proxy"
	// noProxyEnvVar is where the legacy bypass value is written for
	// transports that discover proxies from the environment.
	noProxyEnvVar = "NO_PROXY"
)

// Static error definitions for better error handling.
var (
	// ErrEmptyURL indicates that a request was attempted without a URL.
	ErrEmptyURL = errors.New("request URL cannot be empty")
)

// bypassPattern is a compiled proxy-bypass glob together with its source text.
type bypassPattern struct {
	// raw is the pattern as configured.
	raw string
	// matcher is the compiled glob.
	matcher glob.Glob
}

// Impl implements the Requester interface. It is immutable after
// construction, so one instance is safe for concurrent use.
type Impl struct {
	// transport executes the parameterized calls.
	transport Transport
	// recorder receives a record of every successful call.
	recorder telemetry.Recorder
	// userAgent is the composed User-Agent value stamped on every request.
	userAgent string
	// proxies maps schemes to proxy URLs, reserved keys already extracted.
	proxies map[string]string
	// bypassPatterns lists URL globs dispatched without a proxy.
	bypassPatterns []bypassPattern
	// clientCert is the resolved client certificate, nil when none is configured.
	clientCert *http_transport.ClientCert
	// cacertPath is the CA bundle used when a caller requests verification.
	cacertPath string
	// timeout bounds each call. Zero means no timeout.
	timeout time.Duration
}

// options collects the injectable collaborators of New.
type options struct {
	transport         Transport
	recorder          telemetry.Recorder
	userAgentProvider utils.UserAgentProvider
	fs                afero.Fs
}

// Option customizes the construction of a requester.
type Option func(*options)

// WithTransport injects a transport, skipping default transport construction entirely.
func WithTransport(transport Transport) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithRecorder injects a telemetry recorder.
func WithRecorder(recorder telemetry.Recorder) Option {
	return func(o *options) {
		o.recorder = recorder
	}
}

// WithUserAgentProvider injects the source of the User-Agent value.
func WithUserAgentProvider(provider utils.UserAgentProvider) Option {
	return func(o *options) {
		o.userAgentProvider = provider
	}
}

// WithFs injects the filesystem used for the CA bundle and certificate lookups.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// New creates a requester from the configuration.
//
// Construction extracts the reserved bypass entries from the proxy map,
// normalizes the deprecated single-value bypass into the process environment
// (with a one-time warning), makes sure the CA bundle file exists, resolves
// the client certificate, and, unless a transport is injected, builds the
// default retrying transport.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (Requester, error) {
	o := &options{
		recorder: telemetry.NewLogRecorder(),
		fs:       afero.NewOsFs(),
	}

	for _, opt := range opts {
		opt(o)
	}

	proxies, bypassValue, deprecatedValue := splitProxyMap(cfg.Proxies)

	bypassPatterns, err := compileBypassPatterns(bypassValue)
	if err != nil {
		return nil, err
	}

	// Compatibility shim for the legacy single-value bypass: transports that
	// discover proxies from the environment honor NO_PROXY. This is a
	// process-wide side effect and happens only at construction time.
	if deprecatedValue != "" {
		logger.Warnf(ctx, "proxies.%s is deprecated, use proxies.%s instead", deprecatedNoProxyKey, proxyBypassKey)

		if err = os.Setenv(noProxyEnvVar, deprecatedValue); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", noProxyEnvVar, err)
		}
	}

	if err = cacert.Ensure(o.fs, cfg.CacertPath); err != nil {
		return nil, err
	}

	clientCert, err := resolveClientCert(o.fs, cfg)
	if err != nil {
		return nil, err
	}

	transport := o.transport
	if transport == nil {
		transport, err = http_transport.NewClient(cfg, clientCert)
		if err != nil {
			return nil, err
		}
	}

	userAgentProvider := o.userAgentProvider
	if userAgentProvider == nil {
		userAgentProvider = utils.NewSimpleUserAgentProvider(defaultUserAgent())
	}

	return &Impl{
		transport:      transport,
		recorder:       o.recorder,
		userAgent:      userAgentProvider.GetUserAgent(),
		proxies:        proxies,
		bypassPatterns: bypassPatterns,
		clientCert:     clientCert,
		cacertPath:     cfg.CacertPath,
		timeout:        cfg.ParsedRequestTimeout,
	}, nil
}

// Get performs a GET request to the given URL.
func (r *Impl) Get(ctx context.Context, url string, opts *RequestOptions) (*http.Response, error) {
	return r.call(ctx, http.MethodGet, url, opts)
}

// Put performs a PUT request to the given URL.
func (r *Impl) Put(ctx context.Context, url string, opts *RequestOptions) (*http.Response, error) {
	return r.call(ctx, http.MethodPut, url, opts)
}

// Post performs a POST request to the given URL.
func (r *Impl) Post(ctx context.Context, url string, opts *RequestOptions) (*http.Response, error) {
	return r.call(ctx, http.MethodPost, url, opts)
}

// Delete performs a DELETE request to the given URL.
func (r *Impl) Delete(ctx context.Context, url string, opts *RequestOptions) (*http.Response, error) {
	return r.call(ctx, http.MethodDelete, url, opts)
}

// call is the single dispatch routine behind the method-named entry points.
// Transport failures propagate to the caller unchanged.
func (r *Impl) call(ctx context.Context, method, rawURL string, opts *RequestOptions) (*http.Response, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrEmptyURL
	}

	if opts == nil {
		opts = &RequestOptions{}
	}

	params := r.buildRequestParams(rawURL, opts)

	startTime := time.Now()

	resp, err := r.transport.Do(ctx, method, rawURL, opts.Body, params)
	if err != nil {
		return nil, err
	}

	r.recorder.Record(ctx, telemetry.NewCall(method, rawURL, time.Since(startTime), params.Headers))

	return resp, nil
}

// buildRequestParams derives the full transport parameters for one call from
// the static configuration and the caller's options.
func (r *Impl) buildRequestParams(rawURL string, opts *RequestOptions) http_transport.RequestParams {
	params := http_transport.RequestParams{
		ClientCert: r.clientCert,
		Timeout:    r.timeout,
	}

	// Verification is an either/or: the caller either verifies against the
	// bundle or not at all. There is no custom-CA mode at this layer.
	if opts.Verify {
		params.CACertPath = r.cacertPath
	}

	if len(r.proxies) > 0 || len(r.bypassPatterns) > 0 {
		// Any proxy configuration disables the transport's environment-based
		// discovery; the decision below is final for this call.
		params.NoProxy = true

		if len(r.proxies) > 0 && !r.shouldBypassProxy(rawURL) {
			params.Proxies = r.proxies
			params.NoProxy = false
		}
	}

	headers := make(http.Header, len(opts.Headers)+1)
	for name, values := range opts.Headers {
		headers[http.CanonicalHeaderKey(name)] = slices.Clone(values)
	}

	headers.Set("User-Agent", r.userAgent)
	params.Headers = headers

	return params
}

// shouldBypassProxy reports whether the URL matches any bypass pattern.
// Patterns are tested against the full URL and against its hostname.
func (r *Impl) shouldBypassProxy(rawURL string) bool {
	var host string
	if parsed, err := url.Parse(rawURL); err == nil {
		host = parsed.Hostname()
	}

	for _, pattern := range r.bypassPatterns {
		if pattern.matcher.Match(rawURL) {
			return true
		}

		if host != "" && pattern.matcher.Match(host) {
			return true
		}
	}

	return false
}

// splitProxyMap copies the configured proxy map without its reserved
// entries and returns those entries separately.
func splitProxyMap(configured map[string]string) (proxies map[string]string, bypassValue, deprecatedValue string) {
	proxies = make(map[string]string, len(configured))

	for key, value := range configured {
		switch key {
		case proxyBypassKey:
			bypassValue = value
		case deprecatedNoProxyKey:
			deprecatedValue = value
		default:
			proxies[key] = value
		}
	}

	return proxies, bypassValue, deprecatedValue
}

// compileBypassPatterns parses the comma-separated bypass list into compiled
// globs, keeping the configured order.
func compileBypassPatterns(bypassValue string) ([]bypassPattern, error) {
	var patterns []bypassPattern

	for _, entry := range strings.Split(bypassValue, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		matcher, err := glob.Compile(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy bypass pattern %q: %w", entry, err)
		}

		patterns = append(patterns, bypassPattern{raw: entry, matcher: matcher})
	}

	return patterns, nil
}

// resolveClientCert applies the three-way client certificate rule: both
// paths present form a (cert, key) pair, a lone certificate path is treated
// as a combined cert+key file, and a missing certificate file means no
// client certificate at all.
func resolveClientCert(fs afero.Fs, cfg *config.Config) (*http_transport.ClientCert, error) {
	if cfg.ClientCertPath == "" {
		return nil, nil
	}

	certExists, err := afero.Exists(fs, cfg.ClientCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check client certificate file: %w", err)
	}

	if !certExists {
		return nil, nil
	}

	if cfg.ClientCertKeyPath != "" {
		keyExists, keyErr := afero.Exists(fs, cfg.ClientCertKeyPath)
		if keyErr != nil {
			return nil, fmt.Errorf("failed to check client certificate key file: %w", keyErr)
		}

		if keyExists {
			return &http_transport.ClientCert{
				CertFile: cfg.ClientCertPath,
				KeyFile:  cfg.ClientCertKeyPath,
			}, nil
		}
	}

	return &http_transport.ClientCert{CertFile: cfg.ClientCertPath}, nil
}

// defaultUserAgent composes the client identity stamped on every request:
// client version, runtime version and platform, and the transport's own
// default agent string.
func defaultUserAgent() string {
	return fmt.Sprintf("Conan/%s (Go %s; %s/%s) %s",
		version.Short(),
		strings.TrimPrefix(runtime.Version(), "go"),
		runtime.GOOS,
		runtime.GOARCH,
		http_transport.DefaultUserAgent)
}
