package authority

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/authority-monitor/internal/resilience"
)

// Options configures HTTPClient.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Retry      resilience.Policy
	// Breakers isolates authorities that keep failing. Nil disables it.
	Breakers *resilience.Breakers
}

// HTTPClient queries the lookup service over HTTP with rate limiting,
// retries and per-authority circuit breaking.
type HTTPClient struct {
	base     string
	client   *http.Client
	limiter  *rate.Limiter
	retry    resilience.Policy
	breakers *resilience.Breakers
}

// NewHTTPClient builds a client for opts.BaseURL.
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
		burst = max(1, int(opts.RatePerSec))
	}
	retry := opts.Retry
	if retry.Label == "" {
		retry.Label = "authority"
	}
	return &HTTPClient{
		base: strings.TrimRight(opts.BaseURL, "/"),
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  rate.NewLimiter(limit, burst),
		retry:    retry,
		breakers: opts.Breakers,
	}
}

func (c *HTTPClient) path(kind, authority, subauthority string) string {
	p := c.base + "/" + kind + "/linked_data/" + url.PathEscape(strings.ToLower(authority))
	if subauthority != "" {
		p += "/" + url.PathEscape(subauthority)
	}
	return p
}

// SearchURL returns the request URL for req.
func (c *HTTPClient) SearchURL(req SearchRequest) string {
	q := url.Values{}
	q.Set("q", req.Query)
	if req.MaxRecords > 0 {
		q.Set("maxRecords", strconv.Itoa(req.MaxRecords))
	}
	q.Set("performance_data", "true")
	return c.path("search", req.Authority, req.Subauthority) + "?" + q.Encode()
}

// FindURL returns the request URL for req.
func (c *HTTPClient) FindURL(req FindRequest) string {
	q := url.Values{}
	q.Set("uri", req.Identifier)
	q.Set("performance_data", "true")
	return c.path("fetch", req.Authority, req.Subauthority) + "?" + q.Encode()
}

func (c *HTTPClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.get(ctx, req.Authority, c.SearchURL(req), &out); err != nil {
		return nil, eris.Wrapf(err, "authority: search %s", req.Authority)
	}
	return &out, nil
}

func (c *HTTPClient) Find(ctx context.Context, req FindRequest) (*FindResponse, error) {
	var out FindResponse
	if err := c.get(ctx, req.Authority, c.FindURL(req), &out); err != nil {
		return nil, eris.Wrapf(err, "authority: fetch %s", req.Authority)
	}
	return &out, nil
}

func (c *HTTPClient) get(ctx context.Context, authority, rawURL string, out any) error {
	var breaker *resilience.Breaker
	if c.breakers != nil {
		breaker = c.breakers.For(authority)
		if err := breaker.Allow(); err != nil {
			return err
		}
	}
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.getOnce(ctx, rawURL, out)
	})
	if breaker != nil {
		breaker.Record(err)
	}
	return err
}

func (c *HTTPClient) getOnce(ctx context.Context, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limiter wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := eris.Errorf("http %d from %s", resp.StatusCode, rawURL)
		if resilience.TransientStatus(resp.StatusCode) {
			zap.L().Debug("authority: transient status",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
			)
			return resilience.Transient(err, resp.StatusCode)
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
