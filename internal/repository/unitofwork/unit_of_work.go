package unitofwork

import (
	"context"

	"ai-research-be/internal/repository/contract"
)

// UnitOfWork groups repository writes into one atomic commit. Repositories
// obtained before Begin or after Commit/Rollback run outside a transaction.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	SummaryRepository() contract.SummaryRepository
	SessionRepository() contract.SessionRepository
}
