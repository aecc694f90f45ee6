package domain

import (
	"fmt"
	"strings"
	"time"
)

// TransactionContext is the raw context a mapping rule is keyed on.
type TransactionContext struct {
	Broker   string
	Type     string
	Symbol   string
	Memo     string
	Strategy string
}

// Field aliases used by different brokers for the same concept.
var (
	brokerFieldAliases   = []string{"broker", "broker_code"}
	typeFieldAliases     = []string{"trn_type", "trntype", "type", "txn_type", "action"}
	symbolFieldAliases   = []string{"symbol", "ticker"}
	memoFieldAliases     = []string{"memo", "description", "notes", "note"}
	strategyFieldAliases = []string{"strategy"}
)

// ContextFromFields builds a TransactionContext from a loosely-shaped record,
// whichever of the known field names the broker populated.
func ContextFromFields(fields map[string]any) TransactionContext {
	pick := func(aliases []string) string {
		for _, k := range aliases {
			for fk, v := range fields {
				if !strings.EqualFold(fk, k) || v == nil {
					continue
				}
				if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
					return s
				}
			}
		}
		return ""
	}

	return TransactionContext{
		Broker:   pick(brokerFieldAliases),
		Type:     pick(typeFieldAliases),
		Symbol:   pick(symbolFieldAliases),
		Memo:     pick(memoFieldAliases),
		Strategy: pick(strategyFieldAliases),
	}
}

// Fields returns the context as a plain map, used as rule audit context.
func (c TransactionContext) Fields() map[string]any {
	m := map[string]any{}
	for k, v := range map[string]string{
		"broker": c.Broker, "type": c.Type, "symbol": c.Symbol, "memo": c.Memo, "strategy": c.Strategy,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "|", "/")
}

// DeriveRuleKey returns the stable, lower-case, pipe-delimited key
// broker|type|symbol-or-memo[|strategy]. Trailing empty parts are dropped;
// interior ones stay as empty slots so every part keeps its position
// (alpaca|buy||open is a strategy, alpaca|buy|open a symbol).
func DeriveRuleKey(c TransactionContext) string {
	symOrMemo := normalizeKeyPart(c.Symbol)
	if symOrMemo == "" {
		symOrMemo = normalizeKeyPart(c.Memo)
	}

	parts := []string{normalizeKeyPart(c.Broker), normalizeKeyPart(c.Type), symOrMemo, normalizeKeyPart(c.Strategy)}
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	return strings.Join(parts, "|")
}

// candidateKeys lists keys from most to least specific.
func candidateKeys(c TransactionContext) []string {
	keys := []string{DeriveRuleKey(c)}

	if c.Strategy != "" {
		c.Strategy = ""
		keys = append(keys, DeriveRuleKey(c))
	}
	if c.Symbol != "" || c.Memo != "" {
		c.Symbol, c.Memo = "", ""
		keys = append(keys, DeriveRuleKey(c))
	}

	return keys
}

// MappingRule maps a rule key to a chart-of-accounts code.
type MappingRule struct {
	UpdatedAt   time.Time      `json:"updated_at" yaml:"updated_at"`
	Context     map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	RuleKey     string         `json:"rule_key" yaml:"rule_key"`
	AccountCode string         `json:"account_code" yaml:"account_code"`
	UpdatedBy   string         `json:"updated_by" yaml:"updated_by"`
}

// MappingTable is one version of the full rule set. RolledBackFrom is set
// on versions produced by a rollback and names the version whose rules
// were restored.
type MappingTable struct {
	UpdatedAt      time.Time     `json:"updated_at" yaml:"updated_at"`
	Identity       string        `json:"identity" yaml:"identity"`
	UpdatedBy      string        `json:"updated_by" yaml:"updated_by"`
	Reason         string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Rules          []MappingRule `json:"mappings" yaml:"mappings"`
	Version        int64         `json:"version" yaml:"version"`
	RolledBackFrom *int64        `json:"rolled_back_from,omitempty" yaml:"rolled_back_from,omitempty"`
}

// Rule returns the rule with the exact key.
func (t *MappingTable) Rule(key string) (*MappingRule, bool) {
	if t == nil {
		return nil, false
	}
	for i := range t.Rules {
		if t.Rules[i].RuleKey == key {
			return &t.Rules[i], true
		}
	}
	return nil, false
}

// WithRule returns a copy of the rule set with rule replacing any rule with the same key.
func (t *MappingTable) WithRule(rule MappingRule) []MappingRule {
	out := make([]MappingRule, 0, len(t.Rules)+1)
	for _, r := range t.Rules {
		if r.RuleKey != rule.RuleKey {
			out = append(out, r)
		}
	}
	return append(out, rule)
}

// GetMappingForTransaction resolves the best-matching rule for txn by recomputing
// the rule key, falling back from the full key to less specific ones.
func GetMappingForTransaction(txn TransactionContext, table *MappingTable) (*MappingRule, bool) {
	for _, key := range candidateKeys(txn) {
		if key == "" {
			continue
		}
		if rule, ok := table.Rule(key); ok {
			return rule, true
		}
	}
	return nil, false
}

// MappingVersion summarizes one row of mapping history.
type MappingVersion struct {
	CreatedAt      time.Time
	CreatedBy      string
	Reason         string
	Version        int64
	RuleCount      int
	RolledBackFrom *int64
}
