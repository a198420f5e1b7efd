package balance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/store"
	"github.com/mrovelli/conto/internal/store/sqlite"
)

func newEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "conto.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func seed(t *testing.T, s store.Store, opening string) string {
	t.Helper()
	id, err := s.InsertAccount(context.Background(), &domain.Account{
		Name:           "Checking",
		Kind:           domain.AccountPrimaryBank,
		OpeningBalance: decimal.RequireFromString(opening),
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func record(t *testing.T, s store.Store, acc, date, amount string) {
	t.Helper()
	d, err := civil.ParseDate(date)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.RecordTransaction(context.Background(), &domain.Transaction{
		AccountID:   acc,
		Date:        d,
		Description: "movement",
		Amount:      decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestBalance(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()
	acc := seed(t, s, "100.00")

	record(t, s, acc, "2026-01-10", "-25.50")
	record(t, s, acc, "2026-01-12", "10.00")

	got, err := e.Balance(ctx, acc)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.RequireFromString("84.50")) {
		t.Errorf("Balance = %s, want 84.50", got)
	}

	// The derived balance agrees with the store's cached one.
	a, err := s.GetAccount(ctx, acc)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(a.Balance) {
		t.Errorf("derived balance %s disagrees with cached %s", got, a.Balance)
	}
}

func TestBalanceAsOf(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()
	acc := seed(t, s, "50.00")

	record(t, s, acc, "2026-01-05", "-10.00")
	record(t, s, acc, "2026-01-20", "-20.00")

	cutoff, _ := civil.ParseDate("2026-01-10")
	got, err := e.BalanceAsOf(ctx, acc, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.RequireFromString("40.00")) {
		t.Errorf("BalanceAsOf = %s, want 40.00", got)
	}
}

func TestBalance_UnknownAccount(t *testing.T) {
	e, _ := newEngine(t)
	if _, err := e.Balance(context.Background(), "404"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestWatchBalance(t *testing.T) {
	e, s := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acc := seed(t, s, "100.00")

	feed, err := e.WatchBalance(ctx, acc)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Cancel()

	wait := func(want string) {
		t.Helper()
		select {
		case got := <-feed.Updates():
			if !got.Equal(decimal.RequireFromString(want)) {
				t.Fatalf("balance emission = %s, want %s", got, want)
			}
		case err := <-feed.Err():
			t.Fatalf("feed failed: %v", err)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for balance %s", want)
		}
	}

	wait("100.00")
	record(t, s, acc, "2026-01-10", "-25.50")
	wait("74.50")
}
