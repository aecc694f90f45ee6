package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
	"github.com/iho/botledger/tests/testutil"
)

func TestPost_BalancedGroup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	tl := testutil.NewTestLedger(t)
	ctx := context.Background()

	result, err := tl.Posting.Post(ctx, usecase.PostInput{
		GroupID: "G-1",
		Actor:   "test",
		Legs: []*domain.Leg{
			testutil.Leg("Assets:Cash", domain.SideDebit, "100"),
			testutil.Leg("Income:Sales", domain.SideCredit, "100"),
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Balanced)
	assert.Len(t, result.InsertedIDs, 2)
	assert.Equal(t, 2, tl.CountLegs(ctx))

	legs, err := tl.Posting.GetGroup(ctx, "G-1")
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.True(t, domain.SumLegs(legs).IsZero())
	assert.True(t, legs[0].TotalValue.Equal(testutil.D("100")))
	assert.True(t, legs[1].TotalValue.Equal(testutil.D("-100")))

	ok, err := tl.Posting.ValidateDoubleEntry(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPost_ImbalancedGroupWritesNothing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	tl := testutil.NewTestLedger(t)
	ctx := context.Background()

	_, err := tl.Posting.Post(ctx, usecase.PostInput{
		GroupID: "G-BAD",
		Legs: []*domain.Leg{
			testutil.Leg("Assets:Cash", domain.SideDebit, "100"),
			testutil.Leg("Income:Sales", domain.SideCredit, "50"),
		},
	})

	var imbalance *domain.ImbalanceError
	require.True(t, errors.As(err, &imbalance), "expected ImbalanceError, got %v", err)
	require.Len(t, imbalance.Groups, 1)
	assert.Equal(t, "G-BAD", imbalance.Groups[0].GroupID)
	assert.Equal(t, 0, tl.CountLegs(ctx))

	_, err = tl.Posting.GetGroup(ctx, "G-BAD")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestPost_DuplicateGroupRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	tl := testutil.NewTestLedger(t)
	ctx := context.Background()

	input := usecase.PostInput{
		GroupID: "G-DUP",
		Legs: []*domain.Leg{
			testutil.Leg("Assets:Cash", domain.SideDebit, "10"),
			testutil.Leg("Equity:Contributions", domain.SideCredit, "10"),
		},
	}
	_, err := tl.Posting.Post(ctx, input)
	require.NoError(t, err)

	_, err = tl.Posting.Post(ctx, input)
	assert.ErrorIs(t, err, domain.ErrGroupAlreadyPosted)
	assert.Equal(t, 2, tl.CountLegs(ctx))
}

func TestAccountBalances_RollUpByRoot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	tl := testutil.NewTestLedger(t)
	ctx := context.Background()

	post := func(group string, legs ...*domain.Leg) {
		t.Helper()
		_, err := tl.Posting.Post(ctx, usecase.PostInput{GroupID: group, Legs: legs})
		require.NoError(t, err)
	}
	post("deposit",
		testutil.Leg("Assets:Brokerage:Cash", domain.SideDebit, "1000"),
		testutil.Leg("Equity:Contributions", domain.SideCredit, "1000"),
	)
	post("fee",
		testutil.Leg("Expenses:Trading:Fees", domain.SideDebit, "2.50"),
		testutil.Leg("Assets:Brokerage:Cash", domain.SideCredit, "2.50"),
	)

	report, err := tl.Posting.AccountBalances(ctx, usecase.BalanceFilter{})
	require.NoError(t, err)
	assert.True(t, report.Net.IsZero())
	assert.True(t, report.Roots[domain.RootAssets].Equal(testutil.D("997.5")), "assets %s", report.Roots[domain.RootAssets])

	assets, err := tl.Posting.AccountBalances(ctx, usecase.BalanceFilter{Root: domain.RootAssets})
	require.NoError(t, err)
	require.Len(t, assets.Accounts, 1)
	assert.Equal(t, "Assets:Brokerage:Cash", assets.Accounts[0].AccountCode)
}
