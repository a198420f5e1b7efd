package sqlite

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
)

// watchFeed drives one live query: emit the initial result, then re-run the
// query whenever a relevant change is broadcast, suppressing emissions whose
// result did not actually change. A query error ends the feed terminally.
func watchFeed[T any](
	ctx context.Context,
	s *Store,
	relevant func(change) bool,
	query func(context.Context) (T, error),
	equal func(a, b T) bool,
) *live.Feed[T] {
	feed := live.NewFeed[T]()
	sub := s.hub.subscribe()
	feed.OnStop(func() { s.hub.unsubscribe(sub) })

	go func() {
		var last T
		seeded := false
		emit := func() bool {
			v, err := query(ctx)
			if err != nil {
				feed.Fail(err)
				return false
			}
			if seeded && equal(last, v) {
				return true
			}
			last, seeded = v, true
			feed.Publish(v)
			return true
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				feed.Cancel()
				return
			case <-feed.Done():
				return
			case c := <-sub.ch:
				if !relevant(c) {
					continue
				}
				if !emit() {
					return
				}
			case <-sub.overflow:
				if !emit() {
					return
				}
			}
		}
	}()
	return feed
}

func anyTransaction(c change) bool {
	return c.kind == kindTransaction
}

func equalDecimal(a, b decimal.Decimal) bool { return a.Equal(b) }

func equalInt64(a, b int64) bool { return a == b }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalTransactions(a, b []*domain.Transaction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.AccountID != y.AccountID || x.Date != y.Date ||
			x.Description != y.Description || !x.Amount.Equal(y.Amount) ||
			x.Category != y.Category || x.Notes != y.Notes ||
			x.Recurring != y.Recurring || x.SubscriptionID != y.SubscriptionID {
			return false
		}
	}
	return true
}

func equalAccounts(a, b []*domain.Account) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Name != y.Name || x.Kind != y.Kind ||
			!x.OpeningBalance.Equal(y.OpeningBalance) || !x.Balance.Equal(y.Balance) ||
			x.Currency != y.Currency || x.IBAN != y.IBAN || x.Imported != y.Imported ||
			!x.UpdatedAt.Equal(y.UpdatedAt) {
			return false
		}
	}
	return true
}

func equalSubscriptions(a, b []*domain.Subscription) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Name != y.Name || !x.Amount.Equal(y.Amount) ||
			x.Frequency != y.Frequency || x.StartDate != y.StartDate ||
			x.NextRenewal != y.NextRenewal || x.AccountID != y.AccountID ||
			x.Category != y.Category || x.Active != y.Active || x.Notes != y.Notes {
			return false
		}
		if (x.EndDate == nil) != (y.EndDate == nil) {
			return false
		}
		if x.EndDate != nil && *x.EndDate != *y.EndDate {
			return false
		}
	}
	return true
}
