// Package balance derives account balances from the query layer: the
// account's stored opening balance plus the signed sum of its transactions.
package balance

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/live"
	"github.com/mrovelli/conto/internal/store"
)

// Engine computes current and point-in-time balances. It never references a
// concrete store type.
type Engine struct {
	store store.Store
}

// New builds an engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Balance returns the account's balance right now.
func (e *Engine) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Balance: %w", err)
	}
	sum, err := e.store.SumForAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Balance: %w", err)
	}
	return account.OpeningBalance.Add(sum), nil
}

// BalanceAsOf returns the balance including only transactions dated on or
// before the given date.
func (e *Engine) BalanceAsOf(ctx context.Context, accountID string, date civil.Date) (decimal.Decimal, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("BalanceAsOf: %w", err)
	}
	sum, err := e.store.SumForAccountThrough(ctx, accountID, date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("BalanceAsOf: %w", err)
	}
	return account.OpeningBalance.Add(sum), nil
}

// WatchBalance emits the live balance for the account. The opening balance
// is read once when the subscription starts and treated as fixed for its
// lifetime; if the account record itself changes, the caller rebuilds the
// subscription.
func (e *Engine) WatchBalance(ctx context.Context, accountID string) (*live.Feed[decimal.Decimal], error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("WatchBalance: %w", err)
	}
	opening := account.OpeningBalance
	feed := live.Map(e.store.WatchSum(ctx, accountID), func(sum decimal.Decimal) decimal.Decimal {
		return opening.Add(sum)
	})
	return feed, nil
}
