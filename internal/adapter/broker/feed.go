// Package broker holds the broker collaborators the sync pulls records from.
package broker

import (
	"time"

	"github.com/iho/botledger/internal/domain"
)

// page is one response of a broker listing, and also the layout of an
// export file.
type page struct {
	Trades        []domain.BrokerRecord `json:"trades,omitempty" yaml:"trades,omitempty"`
	CashActivity  []domain.BrokerRecord `json:"cash_activity,omitempty" yaml:"cash_activity,omitempty"`
	Records       []domain.BrokerRecord `json:"records,omitempty" yaml:"records,omitempty"`
	NextPageToken string                `json:"next_page_token,omitempty" yaml:"-"`
}

// split sorts the records of p by kind. Untyped entries under Records take
// defaultKind.
func (p *page) split(defaultKind domain.RecordKind) (trades, cash []domain.BrokerRecord) {
	add := func(r domain.BrokerRecord, kind domain.RecordKind) {
		if r.Kind == "" {
			r.Kind = kind
		}
		if r.Kind == domain.KindCash {
			cash = append(cash, r)
		} else {
			trades = append(trades, r)
		}
	}

	for _, r := range p.Trades {
		add(r, domain.KindTrade)
	}
	for _, r := range p.CashActivity {
		add(r, domain.KindCash)
	}
	for _, r := range p.Records {
		add(r, defaultKind)
	}
	return trades, cash
}

// inWindow reports whether ts lies in [start, end]; nil bounds are open.
func inWindow(ts time.Time, start, end *time.Time) bool {
	if start != nil && ts.Before(*start) {
		return false
	}
	if end != nil && ts.After(*end) {
		return false
	}
	return true
}

func filterWindow(records []domain.BrokerRecord, start, end *time.Time) []domain.BrokerRecord {
	out := make([]domain.BrokerRecord, 0, len(records))
	for _, r := range records {
		if inWindow(r.TimestampUTC, start, end) {
			out = append(out, r)
		}
	}
	return out
}
