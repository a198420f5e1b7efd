package fire

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
	"github.com/mrovelli/conto/internal/store"
)

type transactionDoc struct {
	AccountID      string    `firestore:"account_id"`
	Date           string    `firestore:"date"` // YYYY-MM-DD, range-comparable
	Description    string    `firestore:"description"`
	Amount         int64     `firestore:"amount"` // signed, cents
	Category       string    `firestore:"category"`
	Notes          string    `firestore:"notes,omitempty"`
	Recurring      bool      `firestore:"is_recurring"`
	SubscriptionID string    `firestore:"subscription_id,omitempty"`
	InsertedAt     time.Time `firestore:"inserted_at"`
}

func transactionToDoc(t *domain.Transaction) *transactionDoc {
	insertedAt := t.InsertedAt
	if insertedAt.IsZero() {
		insertedAt = stamp()
	}
	return &transactionDoc{
		AccountID:      t.AccountID,
		Date:           t.Date.String(),
		Description:    t.Description,
		Amount:         cents(t.Amount),
		Category:       t.Category,
		Notes:          t.Notes,
		Recurring:      t.Recurring,
		SubscriptionID: t.SubscriptionID,
		InsertedAt:     insertedAt,
	}
}

func transactionFromDoc(id string, d *transactionDoc) (*domain.Transaction, error) {
	date, err := civil.ParseDate(d.Date)
	if err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", d.Date, err)
	}
	return &domain.Transaction{
		ID:             id,
		AccountID:      d.AccountID,
		Date:           date,
		Description:    d.Description,
		Amount:         fromCents(d.Amount),
		Category:       d.Category,
		Notes:          d.Notes,
		Recurring:      d.Recurring,
		SubscriptionID: d.SubscriptionID,
		InsertedAt:     d.InsertedAt,
	}, nil
}

func decodeTransaction(snap *firestore.DocumentSnapshot) (*domain.Transaction, error) {
	var d transactionDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return transactionFromDoc(snap.Ref.ID, &d)
}

// InsertTransaction stores one transaction without touching the owning
// account's cached balance.
func (s *Store) InsertTransaction(ctx context.Context, t *domain.Transaction) (string, error) {
	ref := s.transactions().Doc(uuid.NewString())
	if _, err := ref.Create(ctx, transactionToDoc(t)); err != nil {
		return "", mapErr("InsertTransaction", err)
	}
	return ref.ID, nil
}

// InsertTransactions stores a batch through a BulkWriter. The store has no
// multi-document atomicity for arbitrary batch sizes, so a partial landing is
// possible if the process dies mid-flight; the first RPC failure is reported.
func (s *Store) InsertTransactions(ctx context.Context, ts []*domain.Transaction) error {
	if len(ts) == 0 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(ts))
	for _, t := range ts {
		job, err := bw.Create(s.transactions().Doc(uuid.NewString()), transactionToDoc(t))
		if err != nil {
			bw.End()
			return mapErr("InsertTransactions", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return mapErr("InsertTransactions", err)
		}
	}
	return nil
}

// UpdateTransaction replaces the document wholesale.
func (s *Store) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	ref := s.transactions().Doc(t.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, transactionToDoc(t))
	})
	if err != nil {
		return mapErr("UpdateTransaction", err)
	}
	return nil
}

// DeleteTransaction removes one document without a balance adjustment.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	ref := s.transactions().Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		return mapErr("DeleteTransaction", err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return mapErr("DeleteTransaction", err)
	}
	return nil
}

// DeleteTransactionsForAccount removes every transaction document owned by
// the account, as an explicit multi-step operation.
func (s *Store) DeleteTransactionsForAccount(ctx context.Context, accountID string) error {
	refs, err := collectRefs(ctx, s.transactions().Where("account_id", "==", accountID))
	if err != nil {
		return fmt.Errorf("DeleteTransactionsForAccount: %w", err)
	}
	if err := s.bulkDelete(ctx, refs); err != nil {
		return fmt.Errorf("DeleteTransactionsForAccount: %w", err)
	}
	return nil
}

// GetTransaction fetches one transaction by identifier.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	snap, err := s.transactions().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("GetTransaction", err)
	}
	t, err := decodeTransaction(snap)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return t, nil
}

func (s *Store) txByDateDesc() firestore.Query {
	return s.transactions().OrderBy("date", firestore.Desc)
}

// WatchAllTransactions emits every transaction, newest first.
func (s *Store) WatchAllTransactions(ctx context.Context) *live.Feed[[]*domain.Transaction] {
	return watchQuery(ctx, s.txByDateDesc(), "WatchAllTransactions", decodeTransaction)
}

// WatchTransactionsByAccount emits the account's transactions, newest first.
func (s *Store) WatchTransactionsByAccount(ctx context.Context, accountID string) *live.Feed[[]*domain.Transaction] {
	q := s.txByDateDesc().Where("account_id", "==", accountID)
	return watchQuery(ctx, q, "WatchTransactionsByAccount", decodeTransaction)
}

// WatchTransactionsByDateRange emits transactions inside the inclusive
// range; the server-side filter means writes outside it never push.
func (s *Store) WatchTransactionsByDateRange(ctx context.Context, r store.DateRange) *live.Feed[[]*domain.Transaction] {
	q := s.txByDateDesc().
		Where("date", ">=", r.From.String()).
		Where("date", "<=", r.To.String())
	return watchQuery(ctx, q, "WatchTransactionsByDateRange", decodeTransaction)
}

// WatchTransactionsByCategory emits transactions carrying the label.
func (s *Store) WatchTransactionsByCategory(ctx context.Context, category string) *live.Feed[[]*domain.Transaction] {
	q := s.txByDateDesc().Where("category", "==", category)
	return watchQuery(ctx, q, "WatchTransactionsByCategory", decodeTransaction)
}

// WatchRecurringTransactions emits transactions flagged as recurring.
func (s *Store) WatchRecurringTransactions(ctx context.Context) *live.Feed[[]*domain.Transaction] {
	q := s.txByDateDesc().Where("is_recurring", "==", true)
	return watchQuery(ctx, q, "WatchRecurringTransactions", decodeTransaction)
}

// WatchTransactionsBySubscription emits transactions linked to the
// subscription; the link is not checked for existence.
func (s *Store) WatchTransactionsBySubscription(ctx context.Context, subscriptionID string) *live.Feed[[]*domain.Transaction] {
	q := s.txByDateDesc().Where("subscription_id", "==", subscriptionID)
	return watchQuery(ctx, q, "WatchTransactionsBySubscription", decodeTransaction)
}

// WatchCategories emits distinct category labels ascending. Firestore has no
// DISTINCT, so the labels are folded client-side from the snapshot.
func (s *Store) WatchCategories(ctx context.Context) *live.Feed[[]string] {
	return watchFold(ctx, s.transactions().Query, "WatchCategories",
		func(docs *firestore.DocumentIterator) ([]string, error) {
			seen := make(map[string]struct{})
			for {
				snap, err := docs.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					return nil, err
				}
				if c, ok := snap.Data()["category"].(string); ok && c != "" {
					seen[c] = struct{}{}
				}
			}
			out := make([]string, 0, len(seen))
			for c := range seen {
				out = append(out, c)
			}
			sort.Strings(out)
			return out, nil
		})
}

// sumQuery folds signed cents over all documents matching q.
func sumQuery(docs *firestore.DocumentIterator) (int64, error) {
	var total int64
	for {
		snap, err := docs.Next()
		if err == iterator.Done {
			return total, nil
		}
		if err != nil {
			return 0, err
		}
		if v, ok := snap.Data()["amount"].(int64); ok {
			total += v
		}
	}
}

func (s *Store) sumOnce(ctx context.Context, op string, q firestore.Query) (decimal.Decimal, error) {
	docs := q.Documents(ctx)
	defer docs.Stop()
	total, err := sumQuery(docs)
	if err != nil {
		return decimal.Zero, mapErr(op, err)
	}
	return fromCents(total), nil
}

// SumForAccount returns the signed sum of the account's transactions.
func (s *Store) SumForAccount(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return s.sumOnce(ctx, "SumForAccount", s.transactions().Where("account_id", "==", accountID))
}

// SumForAccountThrough returns the signed sum dated on or before through.
func (s *Store) SumForAccountThrough(ctx context.Context, accountID string, through civil.Date) (decimal.Decimal, error) {
	q := s.transactions().
		Where("account_id", "==", accountID).
		Where("date", "<=", through.String())
	return s.sumOnce(ctx, "SumForAccountThrough", q)
}

// IncomeInRange returns the sum of positive amounts inside the range.
func (s *Store) IncomeInRange(ctx context.Context, r store.DateRange) (decimal.Decimal, error) {
	q := s.transactions().
		Where("amount", ">", 0).
		Where("date", ">=", r.From.String()).
		Where("date", "<=", r.To.String())
	return s.sumOnce(ctx, "IncomeInRange", q)
}

// ExpenseInRange returns the absolute sum of negative amounts inside the
// range.
func (s *Store) ExpenseInRange(ctx context.Context, r store.DateRange) (decimal.Decimal, error) {
	q := s.transactions().
		Where("amount", "<", 0).
		Where("date", ">=", r.From.String()).
		Where("date", "<=", r.To.String())
	total, err := s.sumOnce(ctx, "ExpenseInRange", q)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Neg(), nil
}

func watchSum(ctx context.Context, op string, q firestore.Query) *live.Feed[decimal.Decimal] {
	return watchFold(ctx, q, op, func(docs *firestore.DocumentIterator) (decimal.Decimal, error) {
		total, err := sumQuery(docs)
		if err != nil {
			return decimal.Zero, err
		}
		return fromCents(total), nil
	})
}

// WatchSum emits the live signed sum for an account.
func (s *Store) WatchSum(ctx context.Context, accountID string) *live.Feed[decimal.Decimal] {
	return watchSum(ctx, "WatchSum", s.transactions().Where("account_id", "==", accountID))
}

// WatchSumThrough emits the live signed sum of transactions dated on or
// before through.
func (s *Store) WatchSumThrough(ctx context.Context, accountID string, through civil.Date) *live.Feed[decimal.Decimal] {
	q := s.transactions().
		Where("account_id", "==", accountID).
		Where("date", "<=", through.String())
	return watchSum(ctx, "WatchSumThrough", q)
}

// WatchIncome emits the live income total for the range.
func (s *Store) WatchIncome(ctx context.Context, r store.DateRange) *live.Feed[decimal.Decimal] {
	q := s.transactions().
		Where("amount", ">", 0).
		Where("date", ">=", r.From.String()).
		Where("date", "<=", r.To.String())
	return watchSum(ctx, "WatchIncome", q)
}

// WatchExpense emits the live expense total for the range, as an absolute
// value.
func (s *Store) WatchExpense(ctx context.Context, r store.DateRange) *live.Feed[decimal.Decimal] {
	q := s.transactions().
		Where("amount", "<", 0).
		Where("date", ">=", r.From.String()).
		Where("date", "<=", r.To.String())
	return live.Map(watchSum(ctx, "WatchExpense", q), decimal.Decimal.Neg)
}

// WatchTransactionCount emits the live number of transactions on an account.
func (s *Store) WatchTransactionCount(ctx context.Context, accountID string) *live.Feed[int64] {
	q := s.transactions().Where("account_id", "==", accountID)
	return watchFold(ctx, q, "WatchTransactionCount", func(docs *firestore.DocumentIterator) (int64, error) {
		var n int64
		for {
			_, err := docs.Next()
			if err == iterator.Done {
				return n, nil
			}
			if err != nil {
				return 0, err
			}
			n++
		}
	})
}

// WatchCategoryCount emits the live number of distinct category labels.
func (s *Store) WatchCategoryCount(ctx context.Context) *live.Feed[int64] {
	return live.Map(s.WatchCategories(ctx), func(cats []string) int64 {
		return int64(len(cats))
	})
}
