package fire

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mrovelli/conto/internal/live"
)

// watchFold attaches a snapshot listener to q and re-emits fold's result for
// every server push. The Firestore client re-attaches the listener itself
// after transient drops; an error surfacing here is terminal for the feed.
func watchFold[T any](ctx context.Context, q firestore.Query, op string, fold func(*firestore.DocumentIterator) (T, error)) *live.Feed[T] {
	feed := live.NewFeed[T]()
	it := q.Snapshots(ctx)
	feed.OnStop(it.Stop)

	go func() {
		for {
			qs, err := it.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled || ctx.Err() != nil {
					feed.Cancel()
				} else {
					feed.Fail(mapErr(op, err))
				}
				return
			}
			v, err := fold(qs.Documents)
			if err != nil {
				feed.Fail(fmt.Errorf("%s: %w", op, err))
				return
			}
			feed.Publish(v)
		}
	}()
	return feed
}

// watchQuery is watchFold specialized to decoding every document into a list.
func watchQuery[T any](ctx context.Context, q firestore.Query, op string, decode func(*firestore.DocumentSnapshot) (T, error)) *live.Feed[[]T] {
	return watchFold(ctx, q, op, func(docs *firestore.DocumentIterator) ([]T, error) {
		var out []T
		for {
			snap, err := docs.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, err
			}
			v, err := decode(snap)
			if err != nil {
				return nil, fmt.Errorf("decoding document %s: %w", snap.Ref.ID, err)
			}
			out = append(out, v)
		}
		return out, nil
	})
}

// collectRefs materializes the document references matching q.
func collectRefs(ctx context.Context, q firestore.Query) ([]*firestore.DocumentRef, error) {
	docs := q.Documents(ctx)
	defer docs.Stop()

	var refs []*firestore.DocumentRef
	for {
		snap, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapErr("collectRefs", err)
		}
		refs = append(refs, snap.Ref)
	}
	return refs, nil
}

// bulkDelete removes the given documents through a BulkWriter and reports
// the first failure.
func (s *Store) bulkDelete(ctx context.Context, refs []*firestore.DocumentRef) error {
	if len(refs) == 0 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return mapErr("bulkDelete", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return mapErr("bulkDelete", err)
		}
	}
	return nil
}
