package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iho/botledger/internal/domain"
)

// FileFeed implements usecase.BrokerClient over a broker export file. The
// file is JSON, or YAML when its extension is .yaml or .yml, and is re-read
// on every fetch.
type FileFeed struct {
	path string
}

// NewFileFeed creates a FileFeed reading path.
func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

// FetchTrades returns trade executions in [start, end].
func (f *FileFeed) FetchTrades(ctx context.Context, start, end *time.Time) ([]domain.BrokerRecord, error) {
	trades, _, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	return filterWindow(trades, start, end), nil
}

// FetchCashActivity returns cash activity in [start, end].
func (f *FileFeed) FetchCashActivity(ctx context.Context, start, end *time.Time) ([]domain.BrokerRecord, error) {
	_, cash, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	return filterWindow(cash, start, end), nil
}

func (f *FileFeed) load(ctx context.Context) (trades, cash []domain.BrokerRecord, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, nil, fmt.Errorf("read broker feed: %w", err)
	}

	var p page
	switch strings.ToLower(filepath.Ext(f.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	default:
		err = decodeJSONFeed(data, &p)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("decode broker feed %s: %w", filepath.Base(f.path), err)
	}

	trades, cash = p.split(domain.KindTrade)
	return trades, cash, nil
}

// decodeJSONFeed accepts either a document or a bare array of records.
func decodeJSONFeed(data []byte, p *page) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &p.Records)
	}
	return json.Unmarshal(data, p)
}
