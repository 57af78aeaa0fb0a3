// Package httpkit builds the outbound HTTP clients Montage uses: the
// Gemini API (long uploads, streaming-length responses), page fetches
// for the fetch_url tool, and the GitHub skill hub. One shared
// transport shape keeps dial and handshake timeouts, connection pool
// limits, and the User-Agent header consistent across those callers.
package httpkit

import (
	"net"
	"net/http"
	"time"

	"github.com/reelworks/montage/internal/buildinfo"
)

// Transport timeouts and pool limits. Montage talks to a handful of
// hosts (Gemini, GitHub, whatever fetch_url is pointed at), so the
// pool stays small.
const (
	dialTimeout         = 10 * time.Second
	keepAlive           = 30 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second
	maxIdleConns        = 20
	maxIdleConnsPerHost = 5
)

// DefaultTimeout is the overall request timeout NewClient applies when
// no WithTimeout option is given.
const DefaultTimeout = 30 * time.Second

// ClientOption configures a client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout   time.Duration
	userAgent string
}

// WithTimeout sets the overall request timeout. Zero disables it;
// the Gemini client passes zero because video-heavy prompts can
// legitimately run for minutes and cancellation comes from the
// request context instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithUserAgent overrides the default Montage User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// NewTransport creates the transport all Montage clients share the
// shape of. Response header timeouts are deliberately absent: Gemini
// holds the connection while it processes uploaded media.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		IdleConnTimeout:     idleConnTimeout,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}
}

// NewClient builds an *http.Client with the shared transport, a
// default timeout, and the Montage User-Agent.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:   DefaultTimeout,
		userAgent: buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	return &http.Client{
		Timeout: cfg.timeout,
		Transport: &userAgentTransport{
			base: NewTransport(),
			ua:   cfg.userAgent,
		},
	}
}

// userAgentTransport injects the User-Agent header on every request
// unless one is already set.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// Clone the request to avoid mutating the original, per RoundTripper contract.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}
