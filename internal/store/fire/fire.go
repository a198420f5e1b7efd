// Package fire implements the query layer against Cloud Firestore. Each
// owner gets a top-level document with accounts, transactions and
// subscriptions as sibling subcollections; transaction and subscription
// documents carry their owning account_id as a plain field because the store
// has no foreign keys. Referential integrity is checked opportunistically by
// the repository, and cascading deletes are explicit multi-step operations.
package fire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/store"
)

const (
	ownersCollection        = "owners"
	accountsCollection      = "accounts"
	transactionsCollection  = "transactions"
	subscriptionsCollection = "subscriptions"
)

// Store implements store.Store on a Firestore database, scoped to one owner.
type Store struct {
	client *firestore.Client
	owner  string
}

var _ store.Store = (*Store)(nil)

// New wraps an existing client for the given owner scope.
func New(client *firestore.Client, owner string) (*Store, error) {
	if owner == "" {
		return nil, fmt.Errorf("New: %w", domain.ErrUnauthenticated)
	}
	return &Store{client: client, owner: owner}, nil
}

var (
	sharedOnce   sync.Once
	sharedClient *firestore.Client
	sharedErr    error
)

// SharedClient builds the process-wide Firestore client exactly once; later
// calls return the same handle. Safe under concurrent first use.
func SharedClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	sharedOnce.Do(func() {
		sharedClient, sharedErr = firestore.NewClient(ctx, projectID)
	})
	if sharedErr != nil {
		return nil, fmt.Errorf("SharedClient: creating client: %w", sharedErr)
	}
	return sharedClient, nil
}

// Close is a no-op: the Firestore client is shared between owner scopes and
// owned by the composition root, which closes it via CloseSharedClient.
func (s *Store) Close() error {
	return nil
}

// CloseSharedClient closes the process-wide client built by SharedClient.
// Call it once at shutdown, after every Store is done.
func CloseSharedClient() error {
	if sharedClient == nil {
		return nil
	}
	return sharedClient.Close()
}

func (s *Store) ownerDoc() *firestore.DocumentRef {
	return s.client.Collection(ownersCollection).Doc(s.owner)
}

func (s *Store) accounts() *firestore.CollectionRef {
	return s.ownerDoc().Collection(accountsCollection)
}

func (s *Store) transactions() *firestore.CollectionRef {
	return s.ownerDoc().Collection(transactionsCollection)
}

func (s *Store) subscriptions() *firestore.CollectionRef {
	return s.ownerDoc().Collection(subscriptionsCollection)
}

// mapErr folds a Firestore RPC failure into the domain taxonomy.
func mapErr(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrStoreUnavailable)
	case codes.Aborted:
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func cents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func stamp() time.Time {
	return time.Now().UTC()
}
