package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
	"github.com/mrovelli/conto/internal/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "conto.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *Store, opening string) string {
	t.Helper()
	id, err := s.InsertAccount(context.Background(), &domain.Account{
		Name:           "Checking",
		Kind:           domain.AccountPrimaryBank,
		OpeningBalance: decimal.RequireFromString(opening),
	})
	if err != nil {
		t.Fatalf("seeding account: %v", err)
	}
	return id
}

func mustDate(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func tx(t *testing.T, accountID, date, amount string) *domain.Transaction {
	t.Helper()
	return &domain.Transaction{
		AccountID:   accountID,
		Date:        mustDate(t, date),
		Description: "test movement",
		Amount:      decimal.RequireFromString(amount),
		Category:    "Misc",
	}
}

func recvFeed[T any](t *testing.T, f *live.Feed[T]) T {
	t.Helper()
	select {
	case v := <-f.Updates():
		return v
	case err := <-f.Err():
		t.Fatalf("feed failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for feed emission")
	}
	var zero T
	return zero
}

func cachedBalance(t *testing.T, s *Store, accountID string) decimal.Decimal {
	t.Helper()
	a, err := s.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("reading account: %v", err)
	}
	return a.Balance
}

func TestRecordTransaction_BalanceScenario(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "100.00")

	if _, err := s.RecordTransaction(ctx, tx(t, acc, "2026-01-10", "-25.50")); err != nil {
		t.Fatalf("recording first transaction: %v", err)
	}
	if got := cachedBalance(t, s, acc); !got.Equal(decimal.RequireFromString("74.50")) {
		t.Errorf("balance after -25.50 = %s, want 74.50", got)
	}

	secondID, err := s.RecordTransaction(ctx, tx(t, acc, "2026-01-12", "10.00"))
	if err != nil {
		t.Fatalf("recording second transaction: %v", err)
	}
	if got := cachedBalance(t, s, acc); !got.Equal(decimal.RequireFromString("84.50")) {
		t.Errorf("balance after +10.00 = %s, want 84.50", got)
	}

	// Removing the first entry restores its amount.
	list, err := s.queryTransactions(ctx, `account_id = ? AND amount = ?`, mustParse(t, acc), int64(-2550))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one -25.50 transaction, got %d", len(list))
	}
	if err := s.RemoveTransaction(ctx, list[0].ID); err != nil {
		t.Fatalf("removing transaction: %v", err)
	}
	if got := cachedBalance(t, s, acc); !got.Equal(decimal.RequireFromString("110.00")) {
		t.Errorf("balance after removal = %s, want 110.00", got)
	}

	// The derived sum agrees with the cache delta.
	sum, err := s.SumForAccount(ctx, acc)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("sum = %s, want 10.00", sum)
	}
	_ = secondID
}

func mustParse(t *testing.T, id string) int64 {
	t.Helper()
	n, err := parseID(id)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestRecordThenRemove_RoundTripsBalance(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "42.07")

	before := cachedBalance(t, s, acc)
	id, err := s.RecordTransaction(ctx, tx(t, acc, "2026-02-01", "-13.99"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveTransaction(ctx, id); err != nil {
		t.Fatal(err)
	}
	if got := cachedBalance(t, s, acc); !got.Equal(before) {
		t.Errorf("balance after round trip = %s, want %s", got, before)
	}
}

func TestRemoveTransaction_NotFoundMutatesNothing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "50.00")

	err := s.RemoveTransaction(ctx, "9999")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if got := cachedBalance(t, s, acc); !got.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("balance changed to %s on failed remove", got)
	}
}

func TestReplaceTransactionsForAccount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "0")

	old := []*domain.Transaction{
		tx(t, acc, "2026-01-01", "-5.00"),
		tx(t, acc, "2026-01-02", "-6.00"),
	}
	if err := s.InsertTransactions(ctx, old); err != nil {
		t.Fatal(err)
	}

	if err := s.ReplaceTransactionsForAccount(ctx, acc, nil); err != nil {
		t.Fatalf("replacing with empty set: %v", err)
	}
	list, err := s.queryTransactions(ctx, `account_id = ?`, mustParse(t, acc))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no transactions after empty replace, got %d", len(list))
	}

	replacement := []*domain.Transaction{
		tx(t, acc, "2026-03-01", "100.00"),
		tx(t, acc, "2026-03-05", "-40.00"),
		tx(t, acc, "2026-03-09", "-1.25"),
	}
	if err := s.ReplaceTransactionsForAccount(ctx, acc, replacement); err != nil {
		t.Fatalf("replacing with new set: %v", err)
	}
	list, err = s.queryTransactions(ctx, `account_id = ?`, mustParse(t, acc))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(list))
	}
	// Ordered date descending.
	if list[0].Date.String() != "2026-03-09" || list[2].Date.String() != "2026-03-01" {
		t.Errorf("unexpected order: %s .. %s", list[0].Date, list[2].Date)
	}
}

func TestReplaceTransactionsForAccount_FailurePreservesPriorState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "0")

	if err := s.InsertTransactions(ctx, []*domain.Transaction{tx(t, acc, "2026-01-01", "-5.00")}); err != nil {
		t.Fatal(err)
	}

	bad := tx(t, acc, "2026-02-01", "1.00")
	bad.SubscriptionID = "not-a-valid-id"
	err := s.ReplaceTransactionsForAccount(ctx, acc, []*domain.Transaction{
		tx(t, acc, "2026-02-02", "2.00"),
		bad,
	})
	if err == nil {
		t.Fatal("expected replacement to fail")
	}

	list, err := s.queryTransactions(ctx, `account_id = ?`, mustParse(t, acc))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Amount.Equal(decimal.RequireFromString("-5.00")) {
		t.Errorf("prior state not preserved after failed replace: %+v", list)
	}
}

func TestDeleteAccount_Cascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "10.00")

	txID, err := s.InsertTransaction(ctx, tx(t, acc, "2026-01-01", "-1.00"))
	if err != nil {
		t.Fatal(err)
	}
	subID, err := s.InsertSubscription(ctx, &domain.Subscription{
		AccountID:   acc,
		Name:        "Streaming",
		Amount:      decimal.RequireFromString("12.99"),
		Frequency:   domain.Quarterly,
		StartDate:   mustDate(t, "2026-01-01"),
		NextRenewal: mustDate(t, "2026-04-01"),
		Active:      true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteAccount(ctx, acc); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetTransaction(ctx, txID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("transaction survived cascade: %v", err)
	}
	if _, err := s.GetSubscription(ctx, subID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("subscription survived cascade: %v", err)
	}
}

func TestRecordTransaction_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "0")

	amounts := []string{"5.00", "7.00"}
	var wg sync.WaitGroup
	errs := make([]error, len(amounts))
	for i, amt := range amounts {
		wg.Add(1)
		go func(i int, amt string) {
			defer wg.Done()
			_, errs[i] = s.RecordTransaction(ctx, tx(t, acc, "2026-01-01", amt))
		}(i, amt)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("concurrent record failed: %v", err)
		}
	}

	if got := cachedBalance(t, s, acc); !got.Equal(decimal.RequireFromString("12.00")) {
		t.Errorf("balance = %s, want exactly 12.00", got)
	}
}

func TestConcurrentRecordAndRemove_KeepBalanceConsistent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "0")

	id, err := s.RecordTransaction(ctx, tx(t, acc, "2026-01-01", "5.00"))
	if err != nil {
		t.Fatal(err)
	}

	// RemoveTransaction reads before it writes; a concurrent recorder must
	// not make it surface a raw busy error or lose either adjustment.
	var wg sync.WaitGroup
	var recordErr, removeErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, recordErr = s.RecordTransaction(ctx, tx(t, acc, "2026-01-02", "7.00"))
	}()
	go func() {
		defer wg.Done()
		removeErr = s.RemoveTransaction(ctx, id)
	}()
	wg.Wait()
	if recordErr != nil {
		t.Fatalf("concurrent record failed: %v", recordErr)
	}
	if removeErr != nil {
		t.Fatalf("concurrent remove failed: %v", removeErr)
	}

	if got := cachedBalance(t, s, acc); !got.Equal(decimal.RequireFromString("7.00")) {
		t.Errorf("balance = %s, want exactly 7.00", got)
	}
}

func TestWatchAllTransactions_EmitsInitialAndOnInsert(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acc := seedAccount(t, s, "0")

	if _, err := s.InsertTransaction(ctx, tx(t, acc, "2026-01-05", "-2.00")); err != nil {
		t.Fatal(err)
	}

	feed := s.WatchAllTransactions(ctx)
	defer feed.Cancel()

	got := recvFeed(t, feed)
	if len(got) != 1 || got[0].Date.String() != "2026-01-05" {
		t.Fatalf("unexpected initial emission: %+v", got)
	}

	if _, err := s.InsertTransaction(ctx, tx(t, acc, "2026-01-10", "-4.00")); err != nil {
		t.Fatal(err)
	}
	got = recvFeed(t, feed)
	if len(got) != 2 {
		t.Fatalf("expected 2 transactions after insert, got %d", len(got))
	}
	// Newest first.
	if got[0].Date.String() != "2026-01-10" {
		t.Errorf("first transaction dated %s, want 2026-01-10", got[0].Date)
	}
}

func TestWatchTransactionsByDateRange_EmitsOnlyForIntersectingWrites(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acc := seedAccount(t, s, "0")

	feed := s.WatchTransactionsByDateRange(ctx, store.DateRange{
		From: mustDate(t, "2026-01-01"),
		To:   mustDate(t, "2026-01-31"),
	})
	defer feed.Cancel()

	if got := recvFeed(t, feed); len(got) != 0 {
		t.Fatalf("initial emission should be empty, got %d", len(got))
	}

	if _, err := s.InsertTransaction(ctx, tx(t, acc, "2026-01-15", "-3.00")); err != nil {
		t.Fatal(err)
	}
	got := recvFeed(t, feed)
	if len(got) != 1 || got[0].Date.String() != "2026-01-15" {
		t.Fatalf("unexpected emission after in-range insert: %+v", got)
	}

	// A write outside the range must not trigger an emission.
	if _, err := s.InsertTransaction(ctx, tx(t, acc, "2026-02-10", "-4.00")); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-feed.Updates():
		t.Fatalf("unexpected emission for out-of-range write: %+v", v)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchSum_TracksInsertsAndRemovals(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acc := seedAccount(t, s, "0")

	feed := s.WatchSum(ctx, acc)
	defer feed.Cancel()

	if got := recvFeed(t, feed); !got.IsZero() {
		t.Fatalf("initial sum = %s, want 0", got)
	}

	id, err := s.RecordTransaction(ctx, tx(t, acc, "2026-01-01", "-9.50"))
	if err != nil {
		t.Fatal(err)
	}
	if got := recvFeed(t, feed); !got.Equal(decimal.RequireFromString("-9.50")) {
		t.Fatalf("sum after insert = %s, want -9.50", got)
	}

	if err := s.RemoveTransaction(ctx, id); err != nil {
		t.Fatal(err)
	}
	if got := recvFeed(t, feed); !got.IsZero() {
		t.Fatalf("sum after removal = %s, want 0", got)
	}
}

func TestAggregates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "0")

	seed := []*domain.Transaction{
		tx(t, acc, "2026-01-05", "1200.00"),
		tx(t, acc, "2026-01-10", "-300.00"),
		tx(t, acc, "2026-01-20", "-45.50"),
		tx(t, acc, "2026-02-02", "-99.00"), // outside January
	}
	seed[0].Category = "Salary"
	seed[1].Category = "Rent"
	seed[2].Category = "Groceries"
	seed[3].Category = "Rent"
	if err := s.InsertTransactions(ctx, seed); err != nil {
		t.Fatal(err)
	}

	jan := store.DateRange{From: mustDate(t, "2026-01-01"), To: mustDate(t, "2026-01-31")}

	income, err := s.IncomeInRange(ctx, jan)
	if err != nil {
		t.Fatal(err)
	}
	if !income.Equal(decimal.RequireFromString("1200.00")) {
		t.Errorf("income = %s, want 1200.00", income)
	}

	expense, err := s.ExpenseInRange(ctx, jan)
	if err != nil {
		t.Fatal(err)
	}
	if !expense.Equal(decimal.RequireFromString("345.50")) {
		t.Errorf("expense = %s, want 345.50 (absolute)", expense)
	}

	through, err := s.SumForAccountThrough(ctx, acc, mustDate(t, "2026-01-15"))
	if err != nil {
		t.Fatal(err)
	}
	if !through.Equal(decimal.RequireFromString("900.00")) {
		t.Errorf("sum through 01-15 = %s, want 900.00", through)
	}

	cats, err := s.listCategories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Groceries", "Rent", "Salary"}
	if !equalStrings(cats, want) {
		t.Errorf("categories = %v, want %v ascending distinct", cats, want)
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	s := newStore(t)
	if _, err := s.GetTransaction(context.Background(), "12345"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if _, err := s.GetTransaction(context.Background(), "garbage"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("non-numeric id: got %v, want ErrNotFound", err)
	}
}

func TestUpdateTransaction_FullReplacement(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "0")

	id, err := s.InsertTransaction(ctx, tx(t, acc, "2026-01-01", "-5.00"))
	if err != nil {
		t.Fatal(err)
	}

	updated := tx(t, acc, "2026-01-02", "-6.50")
	updated.ID = id
	updated.Description = "corrected"
	updated.Notes = "" // full replacement clears unset fields
	if err := s.UpdateTransaction(ctx, updated); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTransaction(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "corrected" || !got.Amount.Equal(decimal.RequireFromString("-6.50")) || got.Date.String() != "2026-01-02" {
		t.Errorf("unexpected transaction after update: %+v", got)
	}
}

func TestDeactivateSubscription(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "0")

	subID, err := s.InsertSubscription(ctx, &domain.Subscription{
		AccountID:   acc,
		Name:        "Gym",
		Amount:      decimal.RequireFromString("29.90"),
		Frequency:   domain.Monthly,
		StartDate:   mustDate(t, "2025-06-01"),
		NextRenewal: mustDate(t, "2026-06-01"),
		Active:      true,
	})
	if err != nil {
		t.Fatal(err)
	}

	// A transaction linked to the subscription must survive deactivation.
	linked := tx(t, acc, "2026-01-01", "-29.90")
	linked.Recurring = true
	linked.SubscriptionID = subID
	linkedID, err := s.InsertTransaction(ctx, linked)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeactivateSubscription(ctx, subID, mustDate(t, "2026-03-31")); err != nil {
		t.Fatal(err)
	}

	sub, err := s.GetSubscription(ctx, subID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Active {
		t.Error("subscription still active after deactivation")
	}
	if sub.EndDate == nil || sub.EndDate.String() != "2026-03-31" {
		t.Errorf("end date = %v, want 2026-03-31", sub.EndDate)
	}
	if _, err := s.GetTransaction(ctx, linkedID); err != nil {
		t.Errorf("linked transaction touched by deactivation: %v", err)
	}
}

func TestDeleteSubscription_LeavesDanglingReferencesReadable(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "0")

	subID, err := s.InsertSubscription(ctx, &domain.Subscription{
		AccountID:   acc,
		Name:        "News",
		Amount:      decimal.RequireFromString("9.99"),
		Frequency:   domain.Monthly,
		StartDate:   mustDate(t, "2025-01-01"),
		NextRenewal: mustDate(t, "2026-01-01"),
		Active:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	linked := tx(t, acc, "2026-01-01", "-9.99")
	linked.Recurring = true
	linked.SubscriptionID = subID
	linkedID, err := s.InsertTransaction(ctx, linked)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSubscription(ctx, subID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTransaction(ctx, linkedID)
	if err != nil {
		t.Fatalf("reader must tolerate a dangling subscription reference: %v", err)
	}
	if got.SubscriptionID != subID {
		t.Errorf("dangling reference rewritten to %q", got.SubscriptionID)
	}
}
