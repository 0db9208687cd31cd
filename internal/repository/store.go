package repository

import "context"

// Repositories is the set of repositories bound to one connection or one
// atomic unit.
type Repositories interface {
	Users() UserRepository
	Catalog() CatalogRepository
	Chats() ChatRepository
	Orders() OrderRepository
	Escrows() EscrowRepository
	Transactions() TransactionRepository
}

// Store exposes non-transactional repositories for reads and runs
// mutations as atomic units. If fn returns an error every write made
// through repos is rolled back.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	Close() error
}
