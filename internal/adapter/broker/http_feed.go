package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/iho/botledger/internal/domain"
)

const (
	tradesPath       = "/v1/trades"
	cashActivityPath = "/v1/cash-activity"
	maxPages         = 1000
	maxResponseBytes = 32 << 20
)

// ErrFeedUnavailable is returned when the feed keeps failing or its
// breaker is open.
var ErrFeedUnavailable = errors.New("broker feed unavailable")

// StatusError is a non-2xx response from the feed.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("broker feed returned %d: %s", e.Status, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// HTTPFeedConfig configures HTTPFeed.
type HTTPFeedConfig struct {
	BaseURL    string
	Token      string
	RateLimit  float64
	Timeout    time.Duration
	MaxRetries uint64
	HTTPClient *http.Client
}

// HTTPFeed implements usecase.BrokerClient against a JSON listing API:
// GET {base}/v1/trades and {base}/v1/cash-activity with start, end and
// page_token query parameters. Calls are rate limited, retried with
// backoff and guarded by a circuit breaker.
type HTTPFeed struct {
	base       *url.URL
	token      string
	client     *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	logger     zerolog.Logger
}

// NewHTTPFeed creates an HTTPFeed.
func NewHTTPFeed(cfg HTTPFeedConfig, logger zerolog.Logger) (*HTTPFeed, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid broker feed url %q", cfg.BaseURL)
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}

	logger = logger.With().Str("component", "broker_feed").Str("host", base.Host).Logger()

	st := gobreaker.Settings{
		Name:     "broker-feed:" + base.Host,
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			// A 4xx is the caller's problem, not the feed's.
			return err == nil || (errors.As(err, &se) && !se.retryable())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("broker feed breaker state changed")
		},
	}

	return &HTTPFeed{
		base:       base,
		token:      cfg.Token,
		client:     client,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    gobreaker.NewCircuitBreaker(st),
		maxRetries: retries,
		logger:     logger,
	}, nil
}

// FetchTrades returns trade executions in [start, end].
func (f *HTTPFeed) FetchTrades(ctx context.Context, start, end *time.Time) ([]domain.BrokerRecord, error) {
	return f.fetchAll(ctx, tradesPath, domain.KindTrade, start, end)
}

// FetchCashActivity returns cash activity in [start, end].
func (f *HTTPFeed) FetchCashActivity(ctx context.Context, start, end *time.Time) ([]domain.BrokerRecord, error) {
	return f.fetchAll(ctx, cashActivityPath, domain.KindCash, start, end)
}

func (f *HTTPFeed) fetchAll(ctx context.Context, path string, kind domain.RecordKind, start, end *time.Time) ([]domain.BrokerRecord, error) {
	var (
		records []domain.BrokerRecord
		token   string
	)

	for i := 0; i < maxPages; i++ {
		p, err := f.fetchPage(ctx, path, start, end, token)
		if err != nil {
			return nil, err
		}

		trades, cash := p.split(kind)
		batch := trades
		if kind == domain.KindCash {
			batch = cash
		}
		records = append(records, filterWindow(batch, start, end)...)

		if p.NextPageToken == "" {
			return records, nil
		}
		token = p.NextPageToken
	}

	return nil, fmt.Errorf("%s: more than %d pages", path, maxPages)
}

func (f *HTTPFeed) fetchPage(ctx context.Context, path string, start, end *time.Time, pageToken string) (*page, error) {
	u := *f.base
	u.Path += path
	q := u.Query()
	if start != nil {
		q.Set("start", start.UTC().Format(time.RFC3339Nano))
	}
	if end != nil {
		q.Set("end", end.UTC().Format(time.RFC3339Nano))
	}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	u.RawQuery = q.Encode()

	var result *page
	attempt := 0
	operation := func() error {
		attempt++
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		out, err := f.breaker.Execute(func() (any, error) {
			return f.do(ctx, u.String())
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrFeedUnavailable, err))
			}
			var se *StatusError
			if errors.As(err, &se) && !se.retryable() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			f.logger.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("broker feed request failed, retrying")
			return err
		}
		result = out.(*page)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, f.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (f *HTTPFeed) do(ctx context.Context, target string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &StatusError{Status: resp.StatusCode, Body: msg}
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode broker response: %w", err)
	}
	return &p, nil
}
