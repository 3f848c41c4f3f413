// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpsrc implements the data-source contract over HTTP/HTTPS.
// Sources are file-like by default; a configured directory_api block turns a
// remote listing endpoint into directory semantics.
package httpsrc

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/icholy/digest"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

func init() {
	source.Register("http", New)
}

// Default transport-level retry policy.
var defaultRetryStatuses = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

var defaultRetryMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodOptions: true,
}

// Source reads (and optionally writes and lists) HTTP resources through a
// pooled, retrying client.
type Source struct {
	source.Base
	url     string
	client  *http.Client
	headers map[string]string
	dirAPI  *directoryAPI
}

var _ source.Source = (*Source)(nil)

// New validates the authentication block eagerly — a bearer without a token
// or an api_key without a key is a configuration error before any network
// call — and assembles the retrying client.
func New(ctx context.Context, cfg *config.SourceConfig, deps *source.Deps) (source.Source, error) {
	resolved := cfg.ResolvedPath()
	if !strings.HasPrefix(resolved, "http://") && !strings.HasPrefix(resolved, "https://") {
		return nil, source.ConfigurationErrf("HTTP path must start with http:// or https://, got %q", resolved)
	}

	s := &Source{url: resolved, headers: map[string]string{}}
	s.Base = source.NewBase(cfg, deps, s)

	if headers := cfg.StaticMap("headers"); headers != nil {
		for key, value := range headers {
			if str, ok := value.(string); ok {
				s.headers[key] = str
			}
		}
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	authed, err := applyAuth(cfg, transport, s.headers)
	if err != nil {
		return nil, err
	}

	retrier := retryablehttp.NewClient()
	retrier.Logger = nil
	retrier.RetryMax = cfg.StaticInt("retry_total", 3)
	retrier.RetryWaitMin = time.Duration(cfg.StaticInt("retry_backoff_ms", 500)) * time.Millisecond
	retrier.RetryWaitMax = 30 * time.Second
	retrier.HTTPClient = &http.Client{Transport: authed, Timeout: cfg.Timeout()}
	retrier.CheckRetry = buildCheckRetry(cfg)

	s.client = retrier.StandardClient()

	if api := cfg.StaticMap("directory_api"); api != nil {
		dirAPI, err := parseDirectoryAPI(api)
		if err != nil {
			return nil, err
		}
		s.dirAPI = dirAPI
	}
	return s, nil
}

func buildTransport(cfg *config.SourceConfig) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	tlsCfg := &tls.Config{}

	// verify_ssl is either a boolean or a CA bundle path.
	switch verify := cfg.StaticConfig["verify_ssl"].(type) {
	case bool:
		tlsCfg.InsecureSkipVerify = !verify
	case string:
		pem, err := os.ReadFile(verify)
		if err != nil {
			return nil, source.ConfigurationErrf("reading CA bundle %s: %w", verify, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, source.ConfigurationErrf("CA bundle %s contains no certificates", verify)
		}
		tlsCfg.RootCAs = pool
	}

	if certPath := cfg.StaticString("client_cert", ""); certPath != "" {
		keyPath := cfg.StaticString("client_key", certPath)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, source.ConfigurationErrf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	transport.TLSClientConfig = tlsCfg
	return transport, nil
}

// applyAuth validates and installs the configured authentication. Basic,
// bearer and api_key become headers; digest needs a challenge-response
// round trip and wraps the transport instead.
func applyAuth(cfg *config.SourceConfig, transport http.RoundTripper, headers map[string]string) (http.RoundTripper, error) {
	switch auth := cfg.StaticString("auth_type", ""); auth {
	case "", "none":
	case "basic":
		user := cfg.StaticString("username", "")
		if user == "" {
			return nil, source.ConfigurationErrf("basic auth requires a username")
		}
		credentials := user + ":" + cfg.StaticString("password", "")
		headers["Authorization"] = "Basic " + basicToken(credentials)
	case "digest":
		user := cfg.StaticString("username", "")
		if user == "" {
			return nil, source.ConfigurationErrf("digest auth requires a username")
		}
		return &digest.Transport{
			Username:  user,
			Password:  cfg.StaticString("password", ""),
			Transport: transport,
		}, nil
	case "bearer":
		token := cfg.StaticString("token", "")
		if token == "" {
			return nil, source.ConfigurationErrf("bearer auth requires a token")
		}
		headers["Authorization"] = "Bearer " + token
	case "api_key":
		key := cfg.StaticString("api_key", "")
		if key == "" {
			return nil, source.ConfigurationErrf("api_key auth requires an api_key")
		}
		headers[cfg.StaticString("api_key_header", "X-API-Key")] = key
	default:
		return nil, source.ConfigurationErrf("unknown auth_type %q", auth)
	}
	return transport, nil
}

func buildCheckRetry(cfg *config.SourceConfig) retryablehttp.CheckRetry {
	statuses := defaultRetryStatuses
	if configured := cfg.StaticStrings("retry_statuses"); configured != nil {
		statuses = map[int]bool{}
		for _, s := range configured {
			var code int
			if _, err := fmt.Sscanf(s, "%d", &code); err == nil {
				statuses[code] = true
			}
		}
	}
	methods := defaultRetryMethods
	if configured := cfg.StaticStrings("retry_methods"); configured != nil {
		methods = map[string]bool{}
		for _, m := range configured {
			methods[strings.ToUpper(m)] = true
		}
	}

	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			// Transport errors fall back to the library's default judgment.
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
		if resp == nil || !statuses[resp.StatusCode] {
			return false, nil
		}
		return methods[strings.ToUpper(resp.Request.Method)], nil
	}
}

func (s *Source) IsListable() bool { return s.dirAPI != nil }

// IsWritable: HTTP write semantics are server-defined, so the backend stays
// read-only unless the config says otherwise.
func (s *Source) IsWritable() bool {
	return s.Config().StaticBool("writable", false)
}

func (s *Source) IsDirectory(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return value
	}
	return s.dirAPI != nil
}

func (s *Source) IsFile(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return !value
	}
	return s.dirAPI == nil
}

func (s *Source) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, source.ConfigurationErrf("building request for %s: %w", rawURL, err)
	}
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

// TestConnection issues a HEAD request and maps the status code; transport
// failures keep their character (SSL trouble, timeouts and redirect loops
// are told apart, not lumped together).
func (s *Source) TestConnection(ctx context.Context) *source.TestResult {
	start := time.Now()
	res := &source.TestResult{Status: source.StatusError}

	req, err := s.newRequest(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		res.Message = err.Error()
		return s.RecordTest(res)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		classified := classifyTransport(err, s.url)
		if source.KindOf(classified) == source.KindTimeout {
			res.Status = source.StatusTimeout
		}
		res.Message = classified.Error()
		res.Error = err.Error()
		res.ResponseTime = source.ResponseTime(start)
		return s.RecordTest(res)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		res.Success = true
		res.Status = source.StatusConnected
		res.Message = fmt.Sprintf("HTTP %d from %s", resp.StatusCode, s.url)
		res.Metadata = map[string]any{
			"status_code":  resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
		}
		if cl := resp.ContentLength; cl >= 0 {
			res.Metadata["content_length"] = cl
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		res.Status = source.StatusUnauthorized
		res.Message = fmt.Sprintf("HTTP %d: not authorized for %s", resp.StatusCode, s.url)
	case resp.StatusCode == http.StatusNotFound:
		res.Message = fmt.Sprintf("HTTP 404: %s not found", s.url)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res.Success = true
		res.Status = source.StatusConnected
		res.Message = fmt.Sprintf("HTTP %d from %s", resp.StatusCode, s.url)
	default:
		res.Message = fmt.Sprintf("HTTP %d from %s", resp.StatusCode, s.url)
	}
	res.ResponseTime = source.ResponseTime(start)
	return s.RecordTest(res)
}

func (s *Source) Exists(ctx context.Context) bool {
	req, err := s.newRequest(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (s *Source) GetMetadata(ctx context.Context) (*source.Metadata, error) {
	req, err := s.newRequest(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err, s.url)
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode, s.url); err != nil {
		return nil, err
	}

	meta := &source.Metadata{
		ContentType: resp.Header.Get("Content-Type"),
		Extra:       map[string]any{"url": s.url, "status_code": resp.StatusCode},
	}
	if cl := resp.ContentLength; cl >= 0 {
		meta.Size = &cl
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		meta.Checksum = strings.Trim(etag, `"`)
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			meta.Modified, meta.LastModified = source.NormalizeTimestamp(t)
		}
	}
	return meta, nil
}

func (s *Source) ReadData(ctx context.Context, opts source.ReadOptions) ([]byte, error) {
	stream, err := s.readResponse(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer stream.body.Close()

	data, err := io.ReadAll(stream.body)
	if err != nil {
		return nil, source.ConnectionErrf("reading response from %s: %w", s.url, err)
	}
	if opts.Limit > 0 && int64(len(data)) > opts.Limit {
		// Servers that ignore Range still honor the caller's bound.
		data = data[:opts.Limit]
	}

	mode := opts.Mode
	if mode == "" || mode == source.ModeAuto {
		if isTextContentType(stream.contentType) {
			mode = source.ModeText
		} else {
			mode = source.ModeBinary
		}
	}
	if mode == source.ModeText && !utf8.Valid(data) {
		return nil, source.DataErrf("response from %s is not valid UTF-8 text", s.url)
	}
	return data, nil
}

func (s *Source) ReadStream(ctx context.Context, opts source.ReadOptions) (io.ReadCloser, error) {
	stream, err := s.readResponse(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 {
		return &limitedBody{Reader: io.LimitReader(stream.body, opts.Limit), body: stream.body}, nil
	}
	return stream.body, nil
}

type limitedBody struct {
	io.Reader
	body io.ReadCloser
}

func (l *limitedBody) Close() error {
	return l.body.Close()
}

type response struct {
	body        io.ReadCloser
	contentType string
}

// readResponse issues the GET, expressing the limit as a Range header so a
// cooperative server never sends the full body.
func (s *Source) readResponse(ctx context.Context, opts source.ReadOptions) (*response, error) {
	req, err := s.newRequest(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", opts.Limit-1))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err, s.url)
	}
	if err := statusError(resp.StatusCode, s.url); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &response{body: resp.Body, contentType: resp.Header.Get("Content-Type")}, nil
}

func (s *Source) WriteData(ctx context.Context, data []byte, opts source.WriteOptions) error {
	if !s.IsWritable() {
		return source.ConfigurationErrf("HTTP source %s is read-only; set writable in static config to enable writes", s.Config().SourceID)
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodPut
	}
	if method != http.MethodPut && method != http.MethodPost {
		return source.ConfigurationErrf("HTTP writes support PUT or POST, got %q", method)
	}

	req, err := s.newRequest(ctx, method, s.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return classifyTransport(err, s.url)
	}
	defer resp.Body.Close()
	return statusError(resp.StatusCode, s.url)
}

// ChildPath resolves a child against the listing URL.
func (s *Source) ChildPath(parent string, item source.Item) string {
	if item.Path != "" {
		return item.Path
	}
	base := parent
	if base == "" {
		base = s.url
	}
	return strings.TrimSuffix(base, "/") + "/" + item.Name
}

func (s *Source) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func statusError(code int, url string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return source.NotFoundErrf("%s not found (HTTP 404)", url)
	case code == http.StatusUnauthorized:
		return source.AuthenticationErrf("authentication required for %s (HTTP 401)", url)
	case code == http.StatusForbidden:
		return source.PermissionErrf("access denied to %s (HTTP 403)", url)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return source.TimeoutErrf("%s timed out (HTTP %d)", url, code)
	default:
		return source.ConnectionErrf("HTTP %d from %s", code, url)
	}
}

// classifyTransport keeps SSL failures, timeouts and redirect loops distinct
// from plain connection errors.
func classifyTransport(err error, url string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "stopped after"):
		return source.ConnectionErrf("redirect loop fetching %s: %w", url, err)
	case strings.Contains(msg, "x509:"), strings.Contains(msg, "tls:"):
		return source.ConnectionErrf("SSL error for %s: %w", url, err)
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return source.ConnectionErrf("SSL certificate verification failed for %s: %w", url, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return source.TimeoutErrf("request to %s timed out: %w", url, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return source.TimeoutErrf("request to %s timed out: %w", url, err)
	}
	return source.ConnectionErrf("request to %s failed: %w", url, err)
}

func isTextContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "text/"):
		return true
	case strings.Contains(ct, "json"), strings.Contains(ct, "xml"),
		strings.Contains(ct, "javascript"), strings.Contains(ct, "x-www-form-urlencoded"):
		return true
	}
	return false
}

func basicToken(credentials string) string {
	return base64.StdEncoding.EncodeToString([]byte(credentials))
}
