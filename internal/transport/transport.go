// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package transport issues the HTTP requests every remotesql command is built on.
// It applies connect and read timeouts, routes through an optional proxy, attaches
// user-supplied headers and records the HTTP status of every call. Response bodies are
// always returned, whatever the status, so failure payloads remain interpretable.
package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/logging"
	"remotesql/cli/internal/metrics"
)

// Proxy describes an HTTP proxy. An empty Host means no proxy.
type Proxy struct {
	Host     string
	Port     int
	Username string
	Password string
}

// URL returns the proxy URL including credentials, or nil when no proxy is configured.
func (p Proxy) URL() *url.URL {
	if strings.TrimSpace(p.Host) == "" {
		return nil
	}

	host := p.Host
	if p.Port > 0 {
		host = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	}
	u := &url.URL{Scheme: "http", Host: host}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Options configures a Transport.
type Options struct {
	// ConnectTimeout bounds dialing and every write of the request body.
	ConnectTimeout time.Duration
	// ReadTimeout bounds every wait for response data.
	ReadTimeout time.Duration
	Proxy       Proxy
	// Headers are added to every request.
	Headers   map[string]string
	UserAgent string
}

// Response is an HTTP response whose body the caller must close.
type Response struct {
	Body       io.ReadCloser
	StatusCode int
	// Status is the reason phrase, e.g. "Not Found".
	Status string
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text is a fully read response.
type Text struct {
	Body       string
	StatusCode int
	Status     string
}

// Transport sends requests and remembers the last observed HTTP status.
// It is safe for concurrent use.
type Transport struct {
	client  *http.Client
	headers map[string]string
	agent   string
	l       *zap.Logger
	m       *metrics.Collector

	mu          sync.Mutex
	lastCode    int
	lastMessage string
}

// New creates a Transport. A nil logger or collector disables logging or metrics.
func New(opts Options, l *zap.Logger, m *metrics.Collector) *Transport {
	if l == nil {
		l = zap.NewNop()
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	ht := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{
				Conn:         conn,
				writeTimeout: opts.ConnectTimeout,
				readTimeout:  opts.ReadTimeout,
			}, nil
		},
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	if pu := opts.Proxy.URL(); pu != nil {
		ht.Proxy = http.ProxyURL(pu)
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Transport{
		client:  &http.Client{Transport: ht},
		headers: headers,
		agent:   opts.UserAgent,
		l:       l,
		m:       m,
	}
}

// LastStatus returns the status code and reason phrase of the last response received.
// Code 0 means no response has been received yet.
func (t *Transport) LastStatus() (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastCode, t.lastMessage
}

func (t *Transport) setLastStatus(code int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastCode = code
	t.lastMessage = message
}

// Get issues a GET request.
func (t *Transport) Get(ctx context.Context, rawURL string) (*Response, error) {
	if err := CheckURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, rerrors.Precondition("invalid request: %v", err)
	}
	return t.Do(req)
}

// Post issues a form-encoded POST request. Null parameters are not sent.
func (t *Transport) Post(ctx context.Context, rawURL string, params Params) (*Response, error) {
	if err := CheckURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, rerrors.Precondition("invalid request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.Do(req)
}

// GetString issues a GET request and reads the whole body as text.
func (t *Transport) GetString(ctx context.Context, rawURL string) (Text, error) {
	resp, err := t.Get(ctx, rawURL)
	if err != nil {
		return Text{}, err
	}
	return ReadText(resp)
}

// PostString issues a POST request and reads the whole body as text.
func (t *Transport) PostString(ctx context.Context, rawURL string, params Params) (Text, error) {
	resp, err := t.Post(ctx, rawURL, params)
	if err != nil {
		return Text{}, err
	}
	return ReadText(resp)
}

// Do sends a prepared request with the configured headers. Any response, whatever
// its status, is returned with its body open; only failures before a status is
// known are returned as errors.
func (t *Transport) Do(req *http.Request) (*Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.agent != "" {
		req.Header.Set("User-Agent", t.agent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, */*")
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		t.m.ObserveRequest(req.Method, 0, elapsed)
		code, msg := t.LastStatus()
		t.l.Debug("HTTP request failed",
			zap.String("method", req.Method), logging.URL(req.URL.String()),
			zap.Duration("elapsed", elapsed), zap.Error(err),
		)
		return nil, rerrors.Transport(err, code, msg)
	}

	msg := reasonPhrase(resp)
	t.setLastStatus(resp.StatusCode, msg)
	t.m.ObserveRequest(req.Method, resp.StatusCode, elapsed)
	t.l.Debug("HTTP request",
		zap.String("method", req.Method), logging.URL(req.URL.String()),
		zap.Int("status", resp.StatusCode), zap.Duration("elapsed", elapsed),
	)

	return &Response{Body: resp.Body, StatusCode: resp.StatusCode, Status: msg}, nil
}

// ReadText reads and closes the body of resp.
func ReadText(resp *Response) (Text, error) {
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Text{}, rerrors.Transport(err, resp.StatusCode, resp.Status)
	}
	return Text{Body: string(b), StatusCode: resp.StatusCode, Status: resp.Status}, nil
}

// CheckURL rejects relative or unparsable URLs before any network call.
func CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rerrors.Precondition("invalid URL %q: %v", logging.Mask(rawURL), err)
	}
	if !u.IsAbs() || u.Host == "" {
		return rerrors.Precondition("URL must be absolute: %q", logging.Mask(rawURL))
	}
	return nil
}

// reasonPhrase extracts "Not Found" from a "404 Not Found" status line.
func reasonPhrase(resp *http.Response) string {
	msg := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return msg
}
