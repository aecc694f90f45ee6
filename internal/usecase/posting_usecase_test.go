package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

func TestPostingUseCase_Post(t *testing.T) {
	tests := []struct {
		name      string
		groupID   string
		legs      []*domain.Leg
		wantErr   error
		wantRows  int
		preExists bool
	}{
		{
			name:    "balanced debit and credit",
			groupID: "G1",
			legs: []*domain.Leg{
				leg("Assets:Cash", domain.SideDebit, "100"),
				leg("Income:Sales", domain.SideCredit, "-100"),
			},
			wantRows: 2,
		},
		{
			name:    "credit given as magnitude is normalized",
			groupID: "G2",
			legs: []*domain.Leg{
				leg("Assets:Cash", domain.SideDebit, "100"),
				leg("Income:Sales", domain.SideCredit, "100"),
			},
			wantRows: 2,
		},
		{
			name:    "imbalanced group writes nothing",
			groupID: "G3",
			legs: []*domain.Leg{
				leg("Assets:Cash", domain.SideDebit, "100"),
				leg("Income:Sales", domain.SideCredit, "-50"),
			},
			wantErr: domain.ErrImbalance,
		},
		{
			name:    "within tolerance",
			groupID: "G4",
			legs: []*domain.Leg{
				leg("Assets:Cash", domain.SideDebit, "100.000000001"),
				leg("Income:Sales", domain.SideCredit, "-100"),
			},
			wantRows: 2,
		},
		{
			name:    "zero leg is invalid",
			groupID: "G5",
			legs: []*domain.Leg{
				leg("Assets:Cash", domain.SideDebit, "0"),
				leg("Income:Sales", domain.SideCredit, "0"),
			},
			wantErr: domain.ErrInvalidLeg,
		},
		{
			name:    "single sided group is rejected",
			groupID: "G6",
			legs: []*domain.Leg{
				leg("Assets:Cash", domain.SideDebit, "100"),
			},
			wantErr: domain.ErrImbalance,
		},
		{
			name:    "bad account code",
			groupID: "G7",
			legs: []*domain.Leg{
				leg("Assets::Cash", domain.SideDebit, "100"),
				leg("Income:Sales", domain.SideCredit, "-100"),
			},
			wantErr: domain.ErrInvalidAccountCode,
		},
		{
			name:    "legs split across trades",
			groupID: "G9",
			legs: []*domain.Leg{
				{AccountCode: "Assets:Cash", Side: domain.SideDebit, TotalValue: d("100"), TradeID: "T1"},
				{AccountCode: "Income:Sales", Side: domain.SideCredit, TotalValue: d("-100"), TradeID: "T2"},
			},
			wantErr: domain.ErrInvalidLeg,
		},
		{
			name:    "explicit trade id on first leg only",
			groupID: "G10",
			legs: []*domain.Leg{
				{AccountCode: "Assets:Cash", Side: domain.SideDebit, TotalValue: d("100"), TradeID: "T1"},
				leg("Income:Sales", domain.SideCredit, "-100"),
			},
			wantErr: domain.ErrInvalidLeg,
		},
		{
			name:    "duplicate group id",
			groupID: "G8",
			legs: []*domain.Leg{
				leg("Assets:Cash", domain.SideDebit, "100"),
				leg("Income:Sales", domain.SideCredit, "-100"),
			},
			preExists: true,
			wantErr:   domain.ErrGroupAlreadyPosted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(usecase.LotConfig{})
			if tt.preExists {
				f.legs.Seed(&domain.Leg{ID: "old", GroupID: tt.groupID, TradeID: tt.groupID})
			}
			before := f.legs.Count()

			result, err := f.posting.Post(context.Background(), usecase.PostInput{GroupID: tt.groupID, Legs: tt.legs})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if f.legs.Count() != before {
					t.Fatalf("expected no rows written, store went from %d to %d", before, f.legs.Count())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Balanced || result.GroupID != tt.groupID {
				t.Fatalf("unexpected result %+v", result)
			}
			if len(result.InsertedIDs) != tt.wantRows || f.legs.Count() != tt.wantRows {
				t.Fatalf("expected %d rows, got ids=%d stored=%d", tt.wantRows, len(result.InsertedIDs), f.legs.Count())
			}

			legs, err := f.posting.GetGroup(context.Background(), tt.groupID)
			if err != nil {
				t.Fatalf("get group: %v", err)
			}
			if !domain.IsBalanced(domain.SumLegs(legs)) {
				t.Fatalf("stored group does not net to zero: %s", domain.SumLegs(legs))
			}
			for _, l := range legs {
				if l.Side == domain.SideDebit && !l.TotalValue.IsPositive() {
					t.Fatalf("debit leg stored non-positive: %s", l.TotalValue)
				}
				if l.Side == domain.SideCredit && !l.TotalValue.IsNegative() {
					t.Fatalf("credit leg stored non-negative: %s", l.TotalValue)
				}
			}
		})
	}
}

func TestPostingUseCase_PostImbalanceErrorNamesGroup(t *testing.T) {
	f := newFixture(usecase.LotConfig{})

	_, err := f.posting.Post(context.Background(), usecase.PostInput{
		GroupID: "G-bad",
		Legs: []*domain.Leg{
			leg("Assets:Cash", domain.SideDebit, "100"),
			leg("Income:Sales", domain.SideCredit, "-50"),
		},
	})

	var imbalance *domain.ImbalanceError
	if !errors.As(err, &imbalance) {
		t.Fatalf("expected *ImbalanceError, got %T %v", err, err)
	}
	if len(imbalance.Groups) != 1 || imbalance.Groups[0].GroupID != "G-bad" || !imbalance.Groups[0].Sum.Equal(d("50")) {
		t.Fatalf("unexpected groups %+v", imbalance.Groups)
	}
	if f.txMgr.Begun != 0 {
		t.Fatalf("expected no transaction for a rejected group, got %d", f.txMgr.Begun)
	}
	if f.metrics.Counts["rejected:imbalance"] != 1 {
		t.Fatalf("expected rejection metric, got %v", f.metrics.Counts)
	}
}

func TestPostingUseCase_PostWritesOutboxAndAudit(t *testing.T) {
	f := newFixture(usecase.LotConfig{})

	_, err := f.posting.Post(context.Background(), usecase.PostInput{
		GroupID: "G1",
		Actor:   "alice",
		Legs: []*domain.Leg{
			leg("Assets:Cash", domain.SideDebit, "100"),
			leg("Income:Sales", domain.SideCredit, "-100"),
		},
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	types := f.outbox.EventTypes()
	if len(types) != 1 || types[0] != domain.EventTypeGroupPosted {
		t.Fatalf("unexpected outbox events %v", types)
	}

	logs, _ := f.audit.List(context.Background(), domain.AuditFilter{Action: string(domain.AuditActionGroupPosted)})
	if len(logs) != 1 || logs[0].Actor != "alice" || logs[0].ResourceID != "G1" {
		t.Fatalf("unexpected audit logs %+v", logs)
	}
}

func TestPostingUseCase_PostBusyStore(t *testing.T) {
	f := newFixture(usecase.LotConfig{})
	f.txMgr.BeginFunc = func(ctx context.Context) (usecase.Transaction, error) {
		return nil, &domain.ConcurrencyTimeoutError{Op: "begin", Err: errors.New("lock timeout")}
	}

	_, err := f.posting.Post(context.Background(), usecase.PostInput{
		GroupID: "G1",
		Legs: []*domain.Leg{
			leg("Assets:Cash", domain.SideDebit, "100"),
			leg("Income:Sales", domain.SideCredit, "-100"),
		},
	})

	var timeout *domain.ConcurrencyTimeoutError
	if !errors.As(err, &timeout) || !timeout.Retryable() {
		t.Fatalf("expected retryable concurrency timeout, got %v", err)
	}
	if f.legs.Count() != 0 {
		t.Fatalf("expected no rows, got %d", f.legs.Count())
	}
}

func TestPostingUseCase_ValidateDoubleEntry(t *testing.T) {
	f := newFixture(usecase.LotConfig{})
	ctx := context.Background()

	_, err := f.posting.Post(ctx, usecase.PostInput{
		GroupID: "T1",
		Legs: []*domain.Leg{
			leg("Assets:Cash", domain.SideDebit, "100"),
			leg("Income:Sales", domain.SideCredit, "-100"),
		},
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	ok, err := f.posting.ValidateDoubleEntry(ctx)
	if !ok || err != nil {
		t.Fatalf("expected clean ledger, got ok=%v err=%v", ok, err)
	}

	// a row written around the poster
	f.legs.Seed(&domain.Leg{ID: "x", GroupID: "T2", TradeID: "T2", AccountCode: "Assets:Cash", Side: domain.SideDebit, TotalValue: d("5")})

	ok, err = f.posting.ValidateDoubleEntry(ctx)
	if ok {
		t.Fatal("expected imbalance to be detected")
	}
	var imbalance *domain.ImbalanceError
	if !errors.As(err, &imbalance) || imbalance.Groups[0].GroupID != "T2" {
		t.Fatalf("expected T2 flagged, got %v", err)
	}
}

func TestPostingUseCase_EditLeg(t *testing.T) {
	f := newFixture(usecase.LotConfig{})
	f.posting.WithInlineMappingUpsert(f.mapping)
	ctx := context.Background()

	result, err := f.posting.Post(ctx, usecase.PostInput{
		GroupID: "T1",
		Legs: []*domain.Leg{
			{AccountCode: "Assets:Cash", Side: domain.SideDebit, TotalValue: d("25"), Metadata: map[string]any{"broker": "alpaca", "action": "dividend", "memo": "AAPL div"}},
			{AccountCode: "Income:Unmapped", Side: domain.SideCredit, TotalValue: d("25"), Metadata: map[string]any{"broker": "alpaca", "action": "dividend", "memo": "AAPL div"}},
		},
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	code := "Income:Dividends"
	edited, err := f.posting.EditLeg(ctx, usecase.EditLegInput{
		LegID:       result.InsertedIDs[1],
		AccountCode: &code,
		Actor:       "bob",
		Reason:      "classify dividend",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.AccountCode != code || !edited.TotalValue.Equal(d("-25")) {
		t.Fatalf("unexpected edited leg %+v", edited)
	}

	logs, _ := f.audit.List(ctx, domain.AuditFilter{Action: string(domain.AuditActionLegEdit)})
	if len(logs) != 1 || logs[0].BeforeState["account_code"] != "Income:Unmapped" || logs[0].AfterState["account_code"] != code {
		t.Fatalf("unexpected audit %+v", logs)
	}

	table, err := f.mapping.LoadMappingTable(ctx)
	if err != nil {
		t.Fatalf("load mapping: %v", err)
	}
	rule, ok := table.Rule("alpaca|dividend|aapl div")
	if !ok || rule.AccountCode != code {
		t.Fatalf("expected inline mapping rule, got %+v", table.Rules)
	}
}

func TestPostingUseCase_EditLegRejectsEmptyEdit(t *testing.T) {
	f := newFixture(usecase.LotConfig{})

	_, err := f.posting.EditLeg(context.Background(), usecase.EditLegInput{LegID: "x"})
	if !errors.Is(err, domain.ErrInvalidLeg) {
		t.Fatalf("expected ErrInvalidLeg, got %v", err)
	}
}

func TestPostingUseCase_AccountBalances(t *testing.T) {
	f := newFixture(usecase.LotConfig{})
	ctx := context.Background()

	post := func(group string, legs ...*domain.Leg) {
		t.Helper()
		if _, err := f.posting.Post(ctx, usecase.PostInput{GroupID: group, Legs: legs}); err != nil {
			t.Fatalf("post %s: %v", group, err)
		}
	}
	post("T1", leg("Assets:Cash", domain.SideDebit, "100"), leg("Income:Sales", domain.SideCredit, "100"))
	post("T2", leg("Expenses:Fees", domain.SideDebit, "5"), leg("Assets:Cash", domain.SideCredit, "5"))

	report, err := f.posting.AccountBalances(ctx, usecase.BalanceFilter{})
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if !report.Net.IsZero() {
		t.Fatalf("expected zero net, got %s", report.Net)
	}
	if !report.Roots[domain.RootAssets].Equal(d("95")) ||
		!report.Roots[domain.RootIncome].Equal(d("100")) ||
		!report.Roots[domain.RootExpenses].Equal(d("5")) {
		t.Fatalf("unexpected roots %v", report.Roots)
	}

	assets, err := f.posting.AccountBalances(ctx, usecase.BalanceFilter{Root: "assets"})
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(assets.Accounts) != 1 || assets.Accounts[0].AccountCode != "Assets:Cash" {
		t.Fatalf("unexpected filtered accounts %+v", assets.Accounts)
	}
}
