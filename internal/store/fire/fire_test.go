package fire

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mrovelli/conto/internal/domain"
)

func TestNew_RequiresOwner(t *testing.T) {
	if _, err := New(nil, ""); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated", err)
	}
}

func TestClose_DoesNotTouchSharedClient(t *testing.T) {
	// Close must be safe on every owner-scoped Store, the shared client is
	// released separately at shutdown.
	s, err := New(nil, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestCloseSharedClient_NoClientBuilt(t *testing.T) {
	if err := CloseSharedClient(); err != nil {
		t.Errorf("CloseSharedClient() = %v, want nil when no client exists", err)
	}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"not found", status.Error(codes.NotFound, "missing"), domain.ErrNotFound},
		{"unavailable", status.Error(codes.Unavailable, "down"), domain.ErrStoreUnavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), domain.ErrStoreUnavailable},
		{"exhausted", status.Error(codes.ResourceExhausted, "quota"), domain.ErrStoreUnavailable},
		{"aborted", status.Error(codes.Aborted, "contention"), domain.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapErr("Op", tt.in); !errors.Is(got, tt.want) {
				t.Errorf("mapErr(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
