package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/store"
	"github.com/mrovelli/conto/internal/store/sqlite"
)

func newRepo(t *testing.T, owner string) *Repository {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "conto.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, owner, zerolog.Nop())
}

func date(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func seedAccount(t *testing.T, r *Repository, opening string) string {
	t.Helper()
	id, err := r.CreateAccount(context.Background(), &domain.Account{
		Name:           "Checking",
		Kind:           domain.AccountPrimaryBank,
		OpeningBalance: decimal.RequireFromString(opening),
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestUnauthenticated(t *testing.T) {
	r := newRepo(t, "")
	ctx := context.Background()

	if _, err := r.CreateAccount(ctx, &domain.Account{Name: "x"}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("CreateAccount: got %v, want ErrUnauthenticated", err)
	}
	if _, err := r.RecordTransaction(ctx, &domain.Transaction{}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("RecordTransaction: got %v, want ErrUnauthenticated", err)
	}
	if _, err := r.Balance(ctx, "1"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Balance: got %v, want ErrUnauthenticated", err)
	}
	if err := r.DeleteAccount(ctx, "1"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("DeleteAccount: got %v, want ErrUnauthenticated", err)
	}
	if _, err := r.CreateSubscription(ctx, &domain.Subscription{}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("CreateSubscription: got %v, want ErrUnauthenticated", err)
	}
}

func TestUnauthenticatedWatchesFailImmediately(t *testing.T) {
	// An empty owner must fail live queries too, via a pre-failed feed
	// rather than emitting data.
	r := newRepo(t, "")
	ctx := context.Background()

	feedErr := func(t *testing.T, name string, errc <-chan error) {
		t.Helper()
		select {
		case err := <-errc:
			if !errors.Is(err, domain.ErrUnauthenticated) {
				t.Errorf("%s: got %v, want ErrUnauthenticated", name, err)
			}
		default:
			t.Errorf("%s: expected an already-failed feed", name)
		}
	}

	feedErr(t, "WatchAccounts", r.WatchAccounts(ctx).Err())
	feedErr(t, "WatchAllTransactions", r.WatchAllTransactions(ctx).Err())
	feedErr(t, "WatchTransactionsByAccount", r.WatchTransactionsByAccount(ctx, "1").Err())
	feedErr(t, "WatchTransactionsByDateRange", r.WatchTransactionsByDateRange(ctx, store.DateRange{}).Err())
	feedErr(t, "WatchTransactionsByCategory", r.WatchTransactionsByCategory(ctx, "Rent").Err())
	feedErr(t, "WatchRecurringTransactions", r.WatchRecurringTransactions(ctx).Err())
	feedErr(t, "WatchTransactionsBySubscription", r.WatchTransactionsBySubscription(ctx, "1").Err())
	feedErr(t, "WatchCategories", r.WatchCategories(ctx).Err())
	feedErr(t, "WatchIncome", r.WatchIncome(ctx, store.DateRange{}).Err())
	feedErr(t, "WatchExpense", r.WatchExpense(ctx, store.DateRange{}).Err())
	feedErr(t, "WatchTransactionCount", r.WatchTransactionCount(ctx, "1").Err())
	feedErr(t, "WatchCategoryCount", r.WatchCategoryCount(ctx).Err())
	feedErr(t, "WatchSubscriptionsByAccount", r.WatchSubscriptionsByAccount(ctx, "1").Err())
	feedErr(t, "WatchActiveSubscriptions", r.WatchActiveSubscriptions(ctx).Err())
}

func TestCreateAccount_Validation(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()

	tests := []struct {
		name    string
		account *domain.Account
	}{
		{"empty name", &domain.Account{}},
		{"unknown kind", &domain.Account{Name: "x", Kind: "SAVINGS"}},
		{"bad currency", &domain.Account{Name: "x", Currency: "EURO"}},
		{"bad iban", &domain.Account{Name: "x", IBAN: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CreateAccount(ctx, tt.account)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateAccount_AppliesDefaults(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()

	id, err := r.CreateAccount(ctx, &domain.Account{Name: "Wallet"})
	if err != nil {
		t.Fatal(err)
	}
	a, err := r.GetAccount(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if a.Currency != domain.DefaultCurrency {
		t.Errorf("currency = %q, want %q default", a.Currency, domain.DefaultCurrency)
	}
	if a.Kind != domain.AccountOther {
		t.Errorf("kind = %q, want %q default", a.Kind, domain.AccountOther)
	}
}

func TestRecordTransaction_FieldValidation(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()
	acc := seedAccount(t, r, "0")

	tests := []struct {
		name string
		tx   *domain.Transaction
	}{
		{"no account", &domain.Transaction{Date: date(t, "2026-01-01")}},
		{"zero date", &domain.Transaction{AccountID: acc}},
		{"recurring without link", &domain.Transaction{AccountID: acc, Date: date(t, "2026-01-01"), Recurring: true}},
		{"link without recurring", &domain.Transaction{AccountID: acc, Date: date(t, "2026-01-01"), SubscriptionID: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.RecordTransaction(ctx, tt.tx)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestRecordTransaction_SubscriptionReferenceChecked(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()
	acc := seedAccount(t, r, "0")

	// A recurring transaction pointing at a missing subscription is rejected.
	_, err := r.RecordTransaction(ctx, &domain.Transaction{
		AccountID:      acc,
		Date:           date(t, "2026-01-01"),
		Amount:         decimal.RequireFromString("-9.99"),
		Recurring:      true,
		SubscriptionID: "12345",
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError for dangling reference", err)
	}

	subID, err := r.CreateSubscription(ctx, &domain.Subscription{
		AccountID:   acc,
		Name:        "Streaming",
		Amount:      decimal.RequireFromString("9.99"),
		Frequency:   domain.Monthly,
		StartDate:   date(t, "2026-01-01"),
		NextRenewal: date(t, "2026-02-01"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.RecordTransaction(ctx, &domain.Transaction{
		AccountID:      acc,
		Date:           date(t, "2026-01-01"),
		Amount:         decimal.RequireFromString("-9.99"),
		Recurring:      true,
		SubscriptionID: subID,
	}); err != nil {
		t.Fatalf("valid recurring transaction rejected: %v", err)
	}
}

func TestStats(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()
	acc := seedAccount(t, r, "0")

	for _, m := range []struct{ date, amount string }{
		{"2026-01-05", "1200.00"},
		{"2026-01-10", "-300.00"},
		{"2026-01-20", "-45.50"},
		{"2026-02-01", "-99.00"},
	} {
		if _, err := r.RecordTransaction(ctx, &domain.Transaction{
			AccountID: acc,
			Date:      date(t, m.date),
			Amount:    decimal.RequireFromString(m.amount),
		}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := r.Stats(ctx, store.DateRange{From: date(t, "2026-01-01"), To: date(t, "2026-01-31")})
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Income.Equal(decimal.RequireFromString("1200.00")) {
		t.Errorf("income = %s, want 1200.00", stats.Income)
	}
	if !stats.Expense.Equal(decimal.RequireFromString("345.50")) {
		t.Errorf("expense = %s, want 345.50", stats.Expense)
	}
	if !stats.Net.Equal(decimal.RequireFromString("854.50")) {
		t.Errorf("net = %s, want 854.50", stats.Net)
	}
}

func TestCreateSubscription_Normalization(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()
	acc := seedAccount(t, r, "0")

	// Active is derived from the end date, whatever the caller set.
	id, err := r.CreateSubscription(ctx, &domain.Subscription{
		AccountID:   acc,
		Name:        "Gym",
		Amount:      decimal.RequireFromString("29.90"),
		Frequency:   domain.Monthly,
		StartDate:   date(t, "2026-01-01"),
		NextRenewal: date(t, "2026-02-01"),
		Active:      false,
	})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := r.GetSubscription(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !sub.Active {
		t.Error("subscription without end date must be active")
	}
	if sub.Category != domain.DefaultSubscriptionCategory {
		t.Errorf("category = %q, want default %q", sub.Category, domain.DefaultSubscriptionCategory)
	}

	end := date(t, "2026-06-30")
	sub.EndDate = &end
	sub.Active = true
	if err := r.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	sub, err = r.GetSubscription(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Active {
		t.Error("subscription with end date must be inactive")
	}
}

func TestCreateSubscription_Validation(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()
	acc := seedAccount(t, r, "0")

	base := func() *domain.Subscription {
		return &domain.Subscription{
			AccountID:   acc,
			Name:        "News",
			Amount:      decimal.RequireFromString("9.99"),
			Frequency:   domain.Monthly,
			StartDate:   date(t, "2026-01-01"),
			NextRenewal: date(t, "2026-02-01"),
		}
	}
	tests := []struct {
		name string
		mut  func(*domain.Subscription)
	}{
		{"empty name", func(s *domain.Subscription) { s.Name = "" }},
		{"zero amount", func(s *domain.Subscription) { s.Amount = decimal.Zero }},
		{"negative amount", func(s *domain.Subscription) { s.Amount = decimal.RequireFromString("-1") }},
		{"bad frequency", func(s *domain.Subscription) { s.Frequency = 7 }},
		{"renewal before start", func(s *domain.Subscription) { s.NextRenewal = date(t, "2025-12-01") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := base()
			tt.mut(sub)
			_, err := r.CreateSubscription(ctx, sub)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestReplaceTransactionsForAccount_RejectsForeignRows(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()
	acc := seedAccount(t, r, "0")

	err := r.ReplaceTransactionsForAccount(ctx, acc, []*domain.Transaction{
		{AccountID: "some-other-account", Date: date(t, "2026-01-01")},
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("got %v, want ValidationError", err)
	}
}

func TestReplaceTransactionsForAccount_FillsEmptyAccountID(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()
	acc := seedAccount(t, r, "0")

	if err := r.ReplaceTransactionsForAccount(ctx, acc, []*domain.Transaction{
		{Date: date(t, "2026-01-01"), Amount: decimal.RequireFromString("-1.00")},
	}); err != nil {
		t.Fatal(err)
	}

	tx, err := r.Balance(ctx, acc)
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Equal(decimal.RequireFromString("-1.00")) {
		t.Errorf("balance after replace = %s, want -1.00", tx)
	}
}

func TestDeactivateSubscription(t *testing.T) {
	r := newRepo(t, "owner-1")
	ctx := context.Background()
	acc := seedAccount(t, r, "0")

	id, err := r.CreateSubscription(ctx, &domain.Subscription{
		AccountID:   acc,
		Name:        "Cloud storage",
		Amount:      decimal.RequireFromString("1.99"),
		Frequency:   domain.Monthly,
		StartDate:   date(t, "2025-01-01"),
		NextRenewal: date(t, "2026-01-01"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.DeactivateSubscription(ctx, id, date(t, "2026-03-31")); err != nil {
		t.Fatal(err)
	}
	sub, err := r.GetSubscription(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Active || sub.EndDate == nil || sub.EndDate.String() != "2026-03-31" {
		t.Errorf("unexpected subscription after deactivation: %+v", sub)
	}
}
