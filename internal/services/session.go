package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/shared"
	"golang.org/x/net/publicsuffix"
)

const (
	sessionReferer   = "https://y.qq.com/"
	sessionUserAgent = "Mozilla/5.0 (Windows NT 11.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36 Edg/116.0.1938.54"
)

// APIConfig describes the RPC endpoints and the client build a [Session] emulates.
type APIConfig struct {
	Version     string
	VersionCode int
	Endpoint    string
	EncEndpoint string
	EnableSign  bool
}

// DefaultAPIConfig returns the endpoint settings of the desktop web client.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Version:     "13.2.5.8",
		VersionCode: 13020508,
		Endpoint:    "https://u.y.qq.com/cgi-bin/musicu.fcg",
		EncEndpoint: "https://u.y.qq.com/cgi-bin/musics.fcg",
	}
}

// APIConfigFrom maps the [shared.APIConfig] section onto an [APIConfig], keeping defaults for empty fields.
func APIConfigFrom(c shared.APIConfig) APIConfig {
	cfg := DefaultAPIConfig()
	if c.Version != "" {
		cfg.Version = c.Version
	}
	if c.VersionCode != 0 {
		cfg.VersionCode = c.VersionCode
	}
	if c.Endpoint != "" {
		cfg.Endpoint = c.Endpoint
	}
	if c.EncEndpoint != "" {
		cfg.EncEndpoint = c.EncEndpoint
	}
	cfg.EnableSign = c.EnableSign
	return cfg
}

// Session is a scoped HTTP client carrying a device fingerprint, an optional credential and endpoint configuration.
//
// A Session belongs to one unit of work (a login attempt, a batch of API calls). Concurrent requests may share it
// as long as they need the same credential.
type Session struct {
	client     *http.Client
	config     APIConfig
	credential *models.Credential
	qimei      string
	logger     *log.Logger
	seq        atomic.Int64
}

// SessionOpts contains configuration options for creating a [Session].
type SessionOpts struct {
	Credential    *models.Credential
	Config        *APIConfig
	HTTPClient    *http.Client
	Fingerprinter Fingerprinter
	Logger        *log.Logger
}

// NewSession creates a session and obtains its device fingerprint once.
//
// When no client is supplied it builds one with a public-suffix aware cookie jar; the client's
// transport is wrapped so every request carries the fixed user agent and referer.
func NewSession(ctx context.Context, opts SessionOpts) (*Session, error) {
	cfg := DefaultAPIConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	if opts.Fingerprinter == nil {
		opts.Fingerprinter = LocalFingerprinter{}
	}

	client, err := prepareClient(opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	qimei, err := opts.Fingerprinter.Fingerprint(ctx, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain device fingerprint: %w", err)
	}

	return &Session{
		client:     client,
		config:     cfg,
		credential: opts.Credential,
		qimei:      qimei,
		logger:     shared.OrDiscard(opts.Logger),
	}, nil
}

func prepareClient(base *http.Client) (*http.Client, error) {
	var c http.Client
	if base != nil {
		c = *base
	}
	if c.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c.Jar = jar
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	c.Transport = &headerTransport{base: c.Transport}
	return &c, nil
}

// headerTransport sets the session-wide user agent and referer unless the request already has them.
type headerTransport struct {
	base http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("User-Agent") != "" && req.Header.Get("Referer") != "" {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", sessionUserAgent)
	}
	if r.Header.Get("Referer") == "" {
		r.Header.Set("Referer", sessionReferer)
	}
	return base.RoundTrip(r)
}

// Credential returns the session's credential, nil for anonymous sessions.
func (s *Session) Credential() *models.Credential { return s.credential }

// Config returns the endpoint configuration.
func (s *Session) Config() APIConfig { return s.config }

// QIMEI returns the device fingerprint.
func (s *Session) QIMEI() string { return s.qimei }

// Logger returns the session logger.
func (s *Session) Logger() *log.Logger { return s.logger }

// Close releases idle connections held by the transport.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

func (s *Session) nextSeq() int64 {
	return s.seq.Add(1)
}

// HTTPRequest describes one raw provider call made through a [Session].
type HTTPRequest struct {
	Method     string
	URL        string
	Query      url.Values
	Form       url.Values
	Body       []byte
	Header     http.Header
	NoRedirect bool          // return 3xx responses as-is instead of following Location
	Timeout    time.Duration // per-call deadline, zero for the client default
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Body       []byte
}

// Cookie returns the value of the named Set-Cookie on this response, or "".
func (r *Response) Cookie(name string) string {
	for _, c := range r.Cookies {
		if c.Name == name && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Fetch performs req with the session's client and reads the whole body.
//
// Status codes >= 400 are returned as errors wrapping [shared.ErrAPIRequest], and >= 500 also
// wrap [shared.ErrServiceUnavailable]. Deadline and cancellation errors are returned wrapped so
// callers can test them with errors.Is.
func (s *Session) Fetch(ctx context.Context, req HTTPRequest) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
	case req.Body != nil:
		body = strings.NewReader(string(req.Body))
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Form != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	client := s.client
	if req.NoRedirect {
		c := *s.client
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		client = &c
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %w: %s %s: status %d", shared.ErrAPIRequest, shared.ErrServiceUnavailable, method, req.URL, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %s %s: status %d", shared.ErrAPIRequest, method, req.URL, resp.StatusCode)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Cookies:    resp.Cookies(),
		Body:       data,
	}, nil
}
