package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/iho/botledger/internal/usecase"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency keys.
	IdempotencyKeyHeader = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
	inFlight             = "processing"
)

// IdempotencyMiddleware handles request idempotency using Redis.
type IdempotencyMiddleware struct {
	store usecase.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyMiddleware creates a new IdempotencyMiddleware.
func NewIdempotencyMiddleware(store usecase.IdempotencyStore) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{store: store, ttl: idempotencyTTL}
}

// WithTTL sets how long responses are kept. Non-positive values are ignored.
func (m *IdempotencyMiddleware) WithTTL(ttl time.Duration) *IdempotencyMiddleware {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

type storedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Wrap wraps an http.Handler with idempotency checking.
func (m *IdempotencyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		exists, cached, err := m.store.CheckAndSet(r.Context(), key, nil, m.ttl)
		if err != nil {
			http.Error(w, "idempotency check failed", http.StatusInternalServerError)
			return
		}

		if exists {
			if cached == nil || string(cached) == inFlight {
				http.Error(w, "request with this idempotency key is in progress", http.StatusConflict)
				return
			}

			status, body := http.StatusOK, cached
			var stored storedResponse
			if json.Unmarshal(cached, &stored) == nil && stored.Status != 0 {
				status, body = stored.Status, stored.Body
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replay", "true")
			w.WriteHeader(status)
			w.Write(body)
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: w,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(recorder, r)

		if recorder.statusCode >= 200 && recorder.statusCode < 300 {
			payload, err := json.Marshal(storedResponse{Status: recorder.statusCode, Body: recorder.body.Bytes()})
			if err == nil {
				m.store.Update(r.Context(), key, payload, m.ttl)
			}
		}
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
