package unitofwork

import "context"

type RepositoryFactory interface {
	NewUnitOfWork(ctx context.Context) UnitOfWork
	// Close releases the underlying connection pool.
	Close() error
}
