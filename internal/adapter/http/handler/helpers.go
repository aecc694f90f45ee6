package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iho/botledger/internal/adapter/http/dto"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

// ActorHeader names the operator behind a request. Requests without it are
// attributed to apiActor.
const (
	ActorHeader = "X-Actor"
	apiActor    = "api"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// writeDomainError writes err with the status mapDomainError picks.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, mapDomainError(err), message, err.Error())
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, domain.ErrLegNotFound),
		errors.Is(err, domain.ErrGroupNotFound),
		errors.Is(err, domain.ErrLotNotFound),
		errors.Is(err, domain.ErrMappingVersionNotFound),
		errors.Is(err, domain.ErrMappingRuleNotFound),
		errors.Is(err, domain.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrGroupAlreadyPosted),
		errors.Is(err, domain.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientLotQuantity),
		errors.Is(err, domain.ErrImbalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConcurrencyTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidLeg),
		errors.Is(err, domain.ErrInvalidSide),
		errors.Is(err, domain.ErrInvalidAccountCode),
		errors.Is(err, domain.ErrInvalidSymbol),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidRecord),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidRuleKey),
		errors.Is(err, domain.ErrMetadataTooLarge),
		errors.Is(err, domain.ErrAmountTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// actor returns the operator named by the request.
func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(ActorHeader)); a != "" {
		return a
	}
	return apiActor
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// parseTimeQuery parses an RFC 3339 timestamp or a date (YYYY-MM-DD).
// A missing parameter yields nil.
func parseTimeQuery(r *http.Request, key string) (*time.Time, error) {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		return nil, nil
	}
	t, err := ParseTime(val)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseEndQuery is parseTimeQuery for inclusive upper bounds: a bare date
// covers the whole day.
func parseEndQuery(r *http.Request, key string) (*time.Time, error) {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		return nil, nil
	}
	t, err := ParseEndTime(val)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseTime parses an RFC 3339 timestamp or a YYYY-MM-DD date in UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}

// ParseEndTime parses an inclusive upper bound. A YYYY-MM-DD date resolves
// to the last instant of that day; timestamps are taken as given.
func ParseEndTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}

func pagination(r *http.Request) (int, int) {
	limit := parseIntQuery(r, "limit", usecase.DefaultListLimit)
	offset := parseIntQuery(r, "offset", 0)
	if limit <= 0 {
		limit = usecase.DefaultListLimit
	}
	if limit > usecase.MaxListLimit {
		limit = usecase.MaxListLimit
	}
	return limit, max(offset, 0)
}
