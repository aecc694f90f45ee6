package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RecordKind separates executions from cash activity.
type RecordKind string

const (
	KindTrade RecordKind = "trade"
	KindCash  RecordKind = "cash"
)

// TradeAction is the normalized economic action of a trade record.
type TradeAction string

const (
	ActionBuy   TradeAction = "buy"
	ActionSell  TradeAction = "sell"
	ActionShort TradeAction = "short"
	ActionCover TradeAction = "cover"
)

var actionAliases = map[string]TradeAction{
	"buy":           ActionBuy,
	"long":          ActionBuy,
	"sell":          ActionSell,
	"short":         ActionShort,
	"sell_short":    ActionShort,
	"sellshort":     ActionShort,
	"cover":         ActionCover,
	"buy_to_cover":  ActionCover,
	"buytocover":    ActionCover,
	"buy_to_close":  ActionCover,
	"sell_to_close": ActionSell,
}

// NormalizeAction maps broker spellings onto a TradeAction.
func NormalizeAction(s string) (TradeAction, bool) {
	a, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// PositionSide returns the lot side this action opens or closes.
func (a TradeAction) PositionSide() PositionSide {
	if a == ActionShort || a == ActionCover {
		return PositionShort
	}
	return PositionLong
}

// Opens reports whether the action opens a lot.
func (a TradeAction) Opens() bool {
	return a == ActionBuy || a == ActionShort
}

// BrokerRecord is a normalized record supplied by the broker collaborator.
// For trades Amount is ignored and notional is Qty*Price; for cash activity
// Amount is signed, positive meaning cash received.
type BrokerRecord struct {
	TimestampUTC time.Time       `json:"timestamp_utc" yaml:"timestamp_utc"`
	Metadata     map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	TradeID      string          `json:"trade_id" yaml:"trade_id"`
	Kind         RecordKind      `json:"kind,omitempty" yaml:"kind,omitempty"`
	Symbol       string          `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Action       string          `json:"action" yaml:"action"`
	Broker       string          `json:"broker" yaml:"broker"`
	Strategy     string          `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Memo         string          `json:"memo,omitempty" yaml:"memo,omitempty"`
	Qty          decimal.Decimal `json:"qty" yaml:"qty"`
	Price        decimal.Decimal `json:"price" yaml:"price"`
	Amount       decimal.Decimal `json:"amount" yaml:"amount"`
	Fee          decimal.Decimal `json:"fee" yaml:"fee"`
}

// Notional is Qty*Price for trades and |Amount| for cash activity.
func (r *BrokerRecord) Notional() decimal.Decimal {
	if r.Kind == KindCash {
		return r.Amount.Abs()
	}
	return r.Qty.Mul(r.Price)
}

// Validate checks the fields the ledger relies on.
func (r *BrokerRecord) Validate() error {
	if strings.TrimSpace(r.TradeID) == "" {
		return fmt.Errorf("%w: trade_id is required", ErrInvalidRecord)
	}
	if r.TimestampUTC.IsZero() {
		return fmt.Errorf("%w: timestamp_utc is required", ErrInvalidRecord)
	}
	if r.Fee.IsNegative() {
		return fmt.Errorf("%w: fee must not be negative", ErrInvalidRecord)
	}

	switch r.Kind {
	case KindTrade:
		if _, ok := NormalizeAction(r.Action); !ok {
			return fmt.Errorf("%w: unknown trade action %q", ErrInvalidRecord, r.Action)
		}
		if err := ValidateSymbol(r.Symbol); err != nil {
			return err
		}
		if err := ValidateQuantity(r.Qty); err != nil {
			return err
		}
		if r.Price.IsNegative() {
			return ErrInvalidPrice
		}
	case KindCash:
		if strings.TrimSpace(r.Action) == "" {
			return fmt.Errorf("%w: cash activity type is required", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}

	return nil
}

// IsNoise reports records with no economic effect (e.g. zero-amount notices).
func (r *BrokerRecord) IsNoise() bool {
	return r.Kind == KindCash && r.Amount.IsZero() && r.Fee.IsZero()
}

// TransactionContext is the mapping context of the record.
func (r *BrokerRecord) TransactionContext() TransactionContext {
	return TransactionContext{
		Broker:   r.Broker,
		Type:     r.Action,
		Symbol:   r.Symbol,
		Memo:     r.Memo,
		Strategy: r.Strategy,
	}
}

// Hash is a stable digest of the record as received, stored as api_hash.
func (r *BrokerRecord) Hash() string {
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
