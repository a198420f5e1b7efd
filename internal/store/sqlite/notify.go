package sqlite

import (
	"sync"

	"cloud.google.com/go/civil"
)

// entityKind identifies which table a change touched.
type entityKind int

const (
	kindAccount entityKind = iota
	kindTransaction
	kindSubscription
)

// change describes a committed write precisely enough for live queries to
// decide relevance without re-running. A change with broad=true carries no
// row detail (bulk replace, cascade) and every watcher of that kind must
// re-evaluate.
type change struct {
	kind           entityKind
	accountID      string
	date           civil.Date
	hasDate        bool
	category       string
	recurring      bool
	subscriptionID string
	broad          bool
}

type subscriber struct {
	ch       chan change
	overflow chan struct{}
}

// hub fans committed-write notifications out to live query goroutines.
// Each subscriber gets a buffered channel; if it falls behind, the overflow
// flag forces an unconditional re-evaluation instead of dropping changes.
type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

func (h *hub) subscribe() *subscriber {
	sub := &subscriber{
		ch:       make(chan change, 64),
		overflow: make(chan struct{}, 1),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *hub) broadcast(changes ...change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		for _, c := range changes {
			select {
			case sub.ch <- c:
			default:
				select {
				case sub.overflow <- struct{}{}:
				default:
				}
			}
		}
	}
}
