package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "-557.000000000000000001", "123456789012345678.5", "0.0001"} {
		d := decimal.RequireFromString(s)
		if got := numericToDecimal(decimalToNumeric(d)); !got.Equal(d) {
			t.Errorf("%s: got %s", s, got)
		}
	}

	if !numericToDecimal(pgtype.Numeric{}).IsZero() {
		t.Fatal("invalid numeric should read as zero")
	}
}

func TestTimestamptz(t *testing.T) {
	if timeToPgTimestamptz(time.Time{}).Valid {
		t.Fatal("zero time should map to NULL")
	}

	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2025, 1, 2, 9, 30, 0, 0, loc)
	got := pgTimestamptzToTime(timeToPgTimestamptz(ts))
	if !got.Equal(ts) || got.Location() != time.UTC {
		t.Fatalf("unexpected %v", got)
	}
}

func TestJSONB(t *testing.T) {
	raw, err := marshalJSONB(map[string]any{})
	if err != nil || raw != nil {
		t.Fatalf("empty map should marshal to nil, got %q, %v", raw, err)
	}

	raw, err = marshalJSONB(map[string]any{"broker": "ALPACA"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m, err := unmarshalJSONB(raw)
	if err != nil || m["broker"] != "ALPACA" {
		t.Fatalf("unexpected %v, %v", m, err)
	}

	if m, err := unmarshalJSONB([]byte("null")); m != nil || err != nil {
		t.Fatalf("null should decode to nil, got %v, %v", m, err)
	}
	if _, err := unmarshalJSONB([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}
