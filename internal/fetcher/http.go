package fetcher

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/yairfalse/rankwatch/pkg/types"
)

// HTTPFetcher downloads a page and extracts a static HTML table
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates a rate-limited, retrying HTTP fetcher
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	return &HTTPFetcher{client: newClient(opts)}
}

func newClient(opts Options) *resty.Client {
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	client := resty.New()
	client.SetHeader("User-Agent", ua)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,text/csv;q=0.9,*/*;q=0.8")
	client.SetRetryCount(opts.Retries)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(5 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil || r == nil {
			return true
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
	})

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return client
}

// get performs a GET and fails on non-2xx responses
func get(ctx context.Context, client *resty.Client, url string) ([]byte, error) {
	resp, err := client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &StatusError{URL: url, Status: resp.StatusCode()}
	}
	return resp.Body(), nil
}

// Fetch implements SnapshotFetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, src *types.Source) (*types.RawTable, error) {
	body, err := get(ctx, f.client, src.Fetch.URL)
	if err != nil {
		return nil, err
	}
	return ParseHTMLTable(bytes.NewReader(body), src.Fetch.Table, src.Fetch.Index)
}
