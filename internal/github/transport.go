// Package github talks to the GitHub REST API: code search, repository
// contents and the rate-limit status endpoint.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// Config controls the HTTP transport.
type Config struct {
	BaseURL   string
	Username  string
	Token     string
	UserAgent string
	Timeout   time.Duration
}

// Response is the raw outcome of one GET.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Transport issues authenticated GETs using a Colly collector.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewTransport builds a Transport.
func NewTransport(cfg Config) *Transport {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	)
	// Clones share the parent's HTTP client, so client settings are applied
	// here once and never per request.
	transport := newHTTPTransport()
	c.WithTransport(transport)
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)
	return &Transport{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get executes a single GET of rawURL with params merged into its query.
func (t *Transport) Get(ctx context.Context, rawURL string, params url.Values) (Response, error) {
	target, err := withParams(rawURL, params)
	if err != nil {
		return Response{}, err
	}
	var (
		result   Response
		fetchErr error
	)
	collector := t.buildCollector(ctx, time.Now(), &result, &fetchErr)
	if err := t.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return Response{}, err
	}
	return result, nil
}

func (t *Transport) buildCollector(
	ctx context.Context,
	start time.Time,
	result *Response,
	fetchErr *error,
) *colly.Collector {
	collector := t.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.Context = ctx
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}

	t.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/vnd.github+json")
		if auth := t.authorization(); auth != "" {
			r.Headers.Set("Authorization", auth)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("github request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("github visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("github response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (t *Transport) authorization() string {
	if t.cfg.Username == "" && t.cfg.Token == "" {
		return ""
	}
	creds := base64.StdEncoding.EncodeToString([]byte(t.cfg.Username + ":" + t.cfg.Token))
	return "Basic " + creds
}

func withParams(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for key, values := range params {
		q.Del(key)
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
	}
}
