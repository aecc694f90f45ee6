package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/botledger/internal/domain"
)

func newTestFeed(t *testing.T, handler http.HandlerFunc) *HTTPFeed {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	feed, err := NewHTTPFeed(HTTPFeedConfig{BaseURL: srv.URL, Token: "secret", MaxRetries: 2}, zerolog.Nop())
	require.NoError(t, err)
	return feed
}

func TestHTTPFeed_PaginatesAndAuthenticates(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, tradesPath, r.URL.Path)
		assert.Equal(t, "2025-01-01T00:00:00Z", r.URL.Query().Get("start"))

		switch r.URL.Query().Get("page_token") {
		case "":
			fmt.Fprint(w, `{"records":[{"trade_id":"T1","action":"buy","symbol":"AAPL","qty":"1","price":"10","timestamp_utc":"2025-01-02T00:00:00Z"}],"next_page_token":"p2"}`)
		case "p2":
			fmt.Fprint(w, `{"records":[{"trade_id":"T2","action":"sell","symbol":"AAPL","qty":"1","price":"11","timestamp_utc":"2025-01-03T00:00:00Z"}]}`)
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("page_token"))
		}
	})

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	trades, err := feed.FetchTrades(context.Background(), &start, nil)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "T2", trades[1].TradeID)
	assert.Equal(t, domain.KindTrade, trades[1].Kind)
}

func TestHTTPFeed_CashEndpointDefaultsKind(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cashActivityPath, r.URL.Path)
		fmt.Fprint(w, `{"records":[{"trade_id":"D1","action":"dividend","amount":"2","timestamp_utc":"2025-01-02T00:00:00Z"}]}`)
	})

	cash, err := feed.FetchCashActivity(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, cash, 1)
	assert.Equal(t, domain.KindCash, cash[0].Kind)
}

func TestHTTPFeed_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	feed := newTestFeed(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"records":[]}`)
	})

	trades, err := feed.FetchTrades(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPFeed_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	feed := newTestFeed(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	})

	_, err := feed.FetchTrades(context.Background(), nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFeed_BreakerOpens(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	feed.maxRetries = 1

	ctx := context.Background()
	var err error
	for i := 0; i < 5 && !errors.Is(err, ErrFeedUnavailable); i++ {
		_, err = feed.FetchTrades(ctx, nil, nil)
	}
	require.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestNewHTTPFeed_InvalidURL(t *testing.T) {
	_, err := NewHTTPFeed(HTTPFeedConfig{BaseURL: "not a url"}, zerolog.Nop())
	require.Error(t, err)
}
