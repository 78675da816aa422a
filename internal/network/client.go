// internal/network/client.go
// Package network provides the out-of-band HTTP client behind the page's
// NativeRequest operation: requests issued through the host's own network
// stack rather than the embedded page, sharing a persistent cookie jar.
package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Transport constants tuned for host-side request traffic.
const (
	defaultDialTimeout         = 15 * time.Second
	defaultKeepAliveInterval   = 30 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultRequestTimeout      = 30 * time.Second
	defaultMaxIdleConns        = 50
	defaultMaxIdleConnsPerHost = 6
	defaultIdleConnTimeout     = 90 * time.Second
	maxResponseBody            = 10 << 20 // 10 MiB cap per native response
)

// Client executes NativeRequest specs. Cookies persist across requests for
// the client's lifetime.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a client with a public-suffix-aware cookie jar and a
// transport sized for occasional host-side calls.
func NewClient(logger *zap.Logger, requestTimeout time.Duration, insecureSkipVerify bool) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAliveInterval,
		}).DialContext,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: insecureSkipVerify,
		},
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   requestTimeout,
		},
		logger: logger.Named("native"),
	}, nil
}

// Do executes the spec and returns the collected response. The spec's own
// Timeout, when set, overrides the client default for this call via the
// context deadline.
func (c *Client) Do(ctx context.Context, spec schemas.NativeRequest) (schemas.NativeResponse, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.URL, body)
	if err != nil {
		return schemas.NativeResponse{}, fmt.Errorf("building native request: %w", err)
	}
	for name, value := range spec.Headers {
		req.Header.Set(name, value)
	}

	c.logger.Debug("Executing native request.",
		zap.String("method", method), zap.String("url", spec.URL))

	resp, err := c.http.Do(req)
	if err != nil {
		return schemas.NativeResponse{}, fmt.Errorf("native request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return schemas.NativeResponse{}, fmt.Errorf("reading native response body: %w", err)
	}

	headers := make(schemas.HeaderMap, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	return schemas.NativeResponse{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    payload,
	}, nil
}

// CloseIdleConnections releases pooled connections. Called on page close.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
