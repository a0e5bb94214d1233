// package testing contains shared testing utilities
package testing

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"testing"
)

// OriginalHostHeader carries the host a [RewriteTransport] redirected away from.
const OriginalHostHeader = "X-Original-Host"

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// RewriteTransport sends every request to a single test server, keeping path and query.
//
// The original host is forwarded in [OriginalHostHeader] so one handler can serve several
// provider hosts. Requests are recorded in order.
type RewriteTransport struct {
	target *url.URL
	mu     sync.Mutex
	seen   []*http.Request
}

// NewRewriteTransport points all traffic at rawURL, typically an httptest server URL.
func NewRewriteTransport(rawURL string) *RewriteTransport {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return &RewriteTransport{target: u}
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set(OriginalHostHeader, req.URL.Host)
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.Host = t.target.Host

	t.mu.Lock()
	t.seen = append(t.seen, req)
	t.mu.Unlock()

	return http.DefaultTransport.RoundTrip(r)
}

// Requests returns the requests seen so far, before rewriting.
func (t *RewriteTransport) Requests() []*http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*http.Request(nil), t.seen...)
}

// Count returns how many requests targeted the given original host and path.
func (t *RewriteTransport) Count(host, path string) int {
	n := 0
	for _, r := range t.Requests() {
		if r.URL.Host == host && r.URL.Path == path {
			n++
		}
	}
	return n
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
