package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Validation errors
var (
	ErrInvalidLeg         = errors.New("invalid leg")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidAccountCode = errors.New("invalid account code")
	ErrInvalidSymbol      = errors.New("invalid symbol")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInvalidPrice       = errors.New("price must not be negative")
	ErrInvalidRecord      = errors.New("invalid broker record")
	ErrInvalidStatus      = errors.New("invalid reconciliation status")
	ErrMetadataTooLarge   = errors.New("metadata size exceeds limit")
	ErrAmountTooLarge     = errors.New("amount exceeds maximum allowed")
)

// Validation constants
const (
	MaxAccountCodeLength = 255
	MaxSymbolLength      = 32
	MaxMetadataSize      = 10240           // 10KB
	MaxLegValue          = "1000000000000" // 1 trillion
)

var (
	accountCodeRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.\-]*(:[A-Za-z0-9][A-Za-z0-9 _.\-]*)*$`)
	symbolRegex      = regexp.MustCompile(`^[A-Z0-9][A-Z0-9./\-]*$`)
	maxLegValue      = decimal.RequireFromString(MaxLegValue)
)

// ValidateAccountCode validates a colon-separated chart-of-accounts code.
func ValidateAccountCode(code string) error {
	code = strings.TrimSpace(code)

	if code == "" {
		return fmt.Errorf("%w: code cannot be empty", ErrInvalidAccountCode)
	}

	if len(code) > MaxAccountCodeLength {
		return fmt.Errorf("%w: code exceeds %d characters", ErrInvalidAccountCode, MaxAccountCodeLength)
	}

	if !accountCodeRegex.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidAccountCode, code)
	}

	return nil
}

// ValidateSymbol validates a normalized (upper-case) instrument symbol.
func ValidateSymbol(symbol string) error {
	if symbol == "" || len(symbol) > MaxSymbolLength || !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// ValidateQuantity requires a strictly positive quantity.
func ValidateQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidQuantity, qty.String())
	}
	return nil
}

// ValidateLegValue bounds the magnitude of a single leg.
func ValidateLegValue(v decimal.Decimal) error {
	if v.Abs().GreaterThan(maxLegValue) {
		return fmt.Errorf("%w: maximum leg value is %s", ErrAmountTooLarge, MaxLegValue)
	}
	return nil
}

// ValidateMetadata validates metadata size
func ValidateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}

	// Estimate size (rough approximation)
	size := 0
	for k, v := range metadata {
		size += len(k)
		size += len(fmt.Sprintf("%v", v))
	}

	if size > MaxMetadataSize {
		return fmt.Errorf("%w: metadata size %d bytes exceeds limit of %d bytes", ErrMetadataTooLarge, size, MaxMetadataSize)
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int, error) {
	const MaxPageSize = 1000
	const DefaultPageSize = 50

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset, nil
}
