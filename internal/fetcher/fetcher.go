// Package fetcher retrieves raw ranking tables from their published pages.
// Fetchers know nothing about identity or tracked fields; they hand back a
// RawTable for the normalizer.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/internal/logger"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// SnapshotFetcher retrieves the current table of a source
type SnapshotFetcher interface {
	Fetch(ctx context.Context, src *types.Source) (*types.RawTable, error)
}

// Options configures the fetchers
type Options struct {
	UserAgent string
	Retries   int
	// RateLimit is requests per second across all sources; zero disables it
	RateLimit  float64
	Burst      int
	Headless   bool
	ChromePath string
}

// DefaultOptions returns sensible defaults for fetching
func DefaultOptions() Options {
	return Options{
		UserAgent: DefaultUserAgent,
		Retries:   2,
		RateLimit: 1,
		Burst:     1,
		Headless:  true,
	}
}

// Fetcher dispatches to the implementation selected by Source.Fetch.Kind
type Fetcher struct {
	kinds  map[types.FetchKind]SnapshotFetcher
	logger logger.Logger
}

// New creates a dispatcher with the http, browser and csv fetchers
func New(opts Options, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.NewNop()
	}
	httpFetcher := NewHTTPFetcher(opts)
	f := &Fetcher{
		kinds:  make(map[types.FetchKind]SnapshotFetcher),
		logger: log,
	}
	f.Register(types.FetchHTTP, httpFetcher)
	f.Register(types.FetchBrowser, NewBrowserFetcher(opts))
	f.Register(types.FetchCSV, NewCSVFetcher(httpFetcher.client))
	return f
}

// Register installs or replaces the fetcher for kind
func (f *Fetcher) Register(kind types.FetchKind, impl SnapshotFetcher) {
	f.kinds[kind] = impl
}

// Fetch implements SnapshotFetcher. Errors are returned as FetchFailure
// unless the implementation already classified them.
func (f *Fetcher) Fetch(ctx context.Context, src *types.Source) (*types.RawTable, error) {
	kind := src.Fetch.Kind
	if kind == "" {
		kind = types.FetchHTTP
	}
	impl, ok := f.kinds[kind]
	if !ok {
		return nil, rwerrors.Configuration("source %s: no fetcher for kind %q", src.ID, kind)
	}

	log := f.logger.WithFields(map[string]interface{}{
		"source": src.ID,
		"kind":   string(kind),
	})
	log.Debug("fetching " + src.Fetch.URL)

	start := time.Now()
	table, err := impl.Fetch(ctx, src)
	if err != nil {
		if _, typed := rwerrors.As(err); typed {
			return nil, err
		}
		return nil, rwerrors.FetchFailure(src.ID, src.Fetch.URL, err)
	}
	if table.IsEmpty() {
		return nil, rwerrors.SchemaMismatch(src.ID, "no table rows found at %s", src.Fetch.URL)
	}

	log.WithFields(map[string]interface{}{
		"rows":     len(table.Rows),
		"columns":  len(table.Headers),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("fetched table")
	return table, nil
}

// StatusError is returned for a non-2xx response
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == code
}
