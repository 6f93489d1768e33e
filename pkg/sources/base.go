package sources

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Config configures one adapter
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Retry    retry.Policy
}

// BaseAdapter holds what every adapter needs to call its upstream: the shared
// HTTP client, the source's gate, and its retry policy.
type BaseAdapter struct {
	source  models.Source
	client  *httpclient.Client
	gate    ratelimit.Gate
	baseURL string
	apiKey  string
	size    int
	policy  retry.Policy
	logger  ectologger.Logger
	now     func() time.Time
}

// NewBaseAdapter creates a BaseAdapter. A nil gate means unthrottled.
func NewBaseAdapter(source models.Source, cfg Config, client *httpclient.Client, gate ratelimit.Gate, logger ectologger.Logger) BaseAdapter {
	if gate == nil {
		gate = ratelimit.Chain()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return BaseAdapter{
		source:  source,
		client:  client,
		gate:    gate,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		size:    cfg.PageSize,
		policy:  cfg.Retry,
		logger:  logger,
		now:     time.Now,
	}
}

// Source returns the adapter's source
func (b *BaseAdapter) Source() models.Source {
	return b.source
}

// SetClock overrides the clock used for RetrievedAt
func (b *BaseAdapter) SetClock(now func() time.Time) {
	b.now = now
}

// getJSON waits on the gate and fetches req under the retry policy.
// Once retries are exhausted, or the upstream refuses the request outright,
// the error is a SourceUnavailable PipelineError wrapping the last failure.
func (b *BaseAdapter) getJSON(ctx context.Context, req *httpclient.Request, out any) error {
	return b.do(ctx, req, func(ctx context.Context, r *http.Request) error {
		return b.client.FetchJSON(ctx, r, out)
	})
}

// getBody is getJSON for non-JSON bodies
func (b *BaseAdapter) getBody(ctx context.Context, req *httpclient.Request) ([]byte, error) {
	var body []byte
	err := b.do(ctx, req, func(ctx context.Context, r *http.Request) error {
		var err error
		body, err = b.client.Fetch(ctx, r)
		return err
	})
	return body, err
}

func (b *BaseAdapter) do(ctx context.Context, req *httpclient.Request, call func(context.Context, *http.Request) error) error {
	ctx, span := tracing.StartSpan(ctx, "sources.BaseAdapter.do")
	defer span.End()

	start := time.Now()
	policy := b.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.RecordSourceRetry(string(b.source))
		b.logger.WithContext(ctx).WithFields(map[string]any{
			"source":  b.source,
			"attempt": attempt,
		}).WithError(err).Warnf("Source request failed, retrying in %v", delay)
	}
	policy.BeforeAttempt = b.gate.Wait

	err := policy.Do(ctx, func(ctx context.Context) error {
		r, err := req.Build(ctx)
		if err != nil {
			return retry.Permanent(err)
		}
		err = call(ctx, r)

		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests && statusErr.RetryAfter > 0 {
			if t, ok := b.gate.(ratelimit.Throttler); ok {
				t.Throttle(ctx, statusErr.RetryAfter)
			}
		}
		return err
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordSourceRequest(string(b.source), status, time.Since(start).Seconds())

	if err != nil {
		return models.NewPipelineError(models.ErrorKindSourceUnavailable, b.source, "", err)
	}
	return nil
}

// isNotFound reports whether err is an upstream 404
func isNotFound(err error) bool {
	var statusErr *httpclient.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// contact builds a normalized contact point, or false if value is empty after normalization
func contact(kind models.ContactType, value string) (models.ContactPoint, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return models.ContactPoint{}, false
	}
	if kind == models.ContactEmail {
		value = normalizers.NormalizeEmail(value)
	}
	return models.ContactPoint{Type: kind, Value: value}, true
}

// social builds a social account from a platform name and a handle or profile URL
func social(platform, handleOrURL string) (models.SocialAccount, bool) {
	platform = normalizers.NormalizePlatform(platform)
	handle := normalizers.NormalizeHandle(handleOrURL)
	if platform == "" || handle == "" {
		return models.SocialAccount{}, false
	}
	account := models.SocialAccount{Platform: platform, Handle: handle}
	if strings.HasPrefix(strings.ToLower(handleOrURL), "http") {
		account.URL = handleOrURL
	}
	return account, true
}

// socialFromURL recognizes a profile link on a known platform
func socialFromURL(link string) (models.SocialAccount, bool) {
	lower := strings.ToLower(link)
	for domain, platform := range map[string]string{
		"twitter.com/":   "twitter",
		"/x.com/":        "twitter",
		"facebook.com/":  "facebook",
		"instagram.com/": "instagram",
		"youtube.com/":   "youtube",
		"bsky.app/":      "bluesky",
		"threads.net/":   "threads",
		"tiktok.com/":    "tiktok",
	} {
		if strings.Contains(lower, domain) {
			return social(platform, link)
		}
	}
	return models.SocialAccount{}, false
}

// date parses YYYY-MM-DD, returning nil when absent or invalid
func date(s string) *time.Time {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// electionDay returns the US general election date of year: the Tuesday after the first Monday in November
func electionDay(year int) time.Time {
	d := time.Date(year, time.November, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 1)
}

// termStartDate is January 3rd of year, when congressional terms begin
func termStartDate(year int) *time.Time {
	if year <= 0 {
		return nil
	}
	t := time.Date(year, time.January, 3, 0, 0, 0, 0, time.UTC)
	return &t
}
