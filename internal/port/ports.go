// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the loan core and
// the service layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/loandesk-go/internal/domain"
)

// LoanAPI is the external loan API. The server is authoritative for every
// record it returns.
type LoanAPI interface {
	// ListLoans returns the full current set of the owner's loans.
	ListLoans(ctx context.Context, ownerID int64) ([]domain.LoanRecord, error)
	ApplyLoan(ctx context.Context, ownerID int64, app *domain.LoanApplication) (*domain.LoanRecord, error)
	PayLoan(ctx context.Context, ownerID int64, req *domain.PaymentRequest) (*domain.LoanRecord, error)
}

// IdentityFetcher retrieves the signed-in principal's display identity.
type IdentityFetcher interface {
	GetIdentity(ctx context.Context, ownerID int64) (*domain.Identity, error)
}

// EventSource opens connections to the push-event feed.
type EventSource interface {
	Connect(ctx context.Context, ownerID int64) (EventConn, error)
}

// EventConn is one live feed connection. Next blocks until a message
// arrives or the connection fails; Close unblocks a pending Next.
type EventConn interface {
	Next() ([]byte, error)
	Close() error
}

// DocumentSink persists rendered documents and returns where they went.
type DocumentSink interface {
	Save(ctx context.Context, name string, content []byte) (string, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// LoadingCache is a Cache that can fill itself on a miss.
type LoadingCache[T any] interface {
	Cache[T]
	GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error)) (value T, hit bool, err error)
}
