package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	"github.com/honeynil/EscrowServiceTochka/internal/repository"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
)

// repositories is bound either to the working copy of an atomic unit
// (inTx) or to the live state, in which case every call locks on its own.
type repositories struct {
	store *Store
	st    *state
	inTx  bool
}

func (r *repositories) Users() repository.UserRepository               { return userRepo{r} }
func (r *repositories) Catalog() repository.CatalogRepository          { return catalogRepo{r} }
func (r *repositories) Chats() repository.ChatRepository               { return chatRepo{r} }
func (r *repositories) Orders() repository.OrderRepository             { return orderRepo{r} }
func (r *repositories) Escrows() repository.EscrowRepository           { return escrowRepo{r} }
func (r *repositories) Transactions() repository.TransactionRepository { return transactionRepo{r} }

func (r *repositories) read(fn func(st *state) error) error {
	if r.inTx {
		return fn(r.st)
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return fn(r.store.st)
}

func (r *repositories) write(ctx context.Context, fn func(st *state) error) error {
	if r.inTx {
		return fn(r.st)
	}
	return r.store.WithinTx(ctx, func(_ context.Context, repos repository.Repositories) error {
		return fn(repos.(*repositories).st)
	})
}

type userRepo struct{ *repositories }

func (r userRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	var user *models.User
	err := r.read(func(st *state) error {
		u, ok := st.users[id]
		if !ok || u.DeletedAt != nil {
			return pkgerrors.ErrUserNotFound
		}
		user = &u
		return nil
	})
	return user, err
}

// GetForUpdate needs no row lock: the unit already holds the writer lock.
func (r userRepo) GetForUpdate(ctx context.Context, id int64) (*models.User, error) {
	return r.GetByID(ctx, id)
}

func (r userRepo) ChangeBalance(ctx context.Context, userID, delta int64) (int64, error) {
	var balance int64
	err := r.write(ctx, func(st *state) error {
		u, ok := st.users[userID]
		if !ok || (u.DeletedAt != nil && delta <= 0) {
			return pkgerrors.ErrUserNotFound
		}
		if u.Balance+delta < 0 {
			return fmt.Errorf("user %d: %w (needed: %d)", userID, pkgerrors.ErrInsufficientFunds, -delta)
		}
		u.Balance += delta
		st.users[userID] = u
		balance = u.Balance
		return nil
	})
	return balance, err
}

type catalogRepo struct{ *repositories }

func (r catalogRepo) GetPricingTier(_ context.Context, id int64) (*models.PricingTier, error) {
	var tier *models.PricingTier
	err := r.read(func(st *state) error {
		t, ok := st.tiers[id]
		if !ok {
			return pkgerrors.ErrPricingTierNotFound
		}
		svc, ok := st.services[t.ServiceID]
		if !ok || svc.DeletedAt != nil {
			return pkgerrors.ErrPricingTierNotFound
		}
		t.Options = slices.Clone(t.Options)
		t.Service = &svc
		tier = &t
		return nil
	})
	return tier, err
}

type chatRepo struct{ *repositories }

func (r chatRepo) FindOrCreateOrderChat(ctx context.Context, userA, userB int64) (*models.Chat, error) {
	low, high := models.ParticipantPair(userA, userB)
	var chat models.Chat
	err := r.write(ctx, func(st *state) error {
		attached := make(map[uuid.UUID]bool, len(st.orders))
		for _, o := range st.orders {
			attached[o.ChatID] = true
		}
		for _, c := range st.chats {
			if c.LowUserID == low && c.HighUserID == high && !attached[c.ID] {
				chat = c
				return nil
			}
		}
		chat = models.Chat{ID: uuid.New(), LowUserID: low, HighUserID: high, CreatedAt: r.store.now()}
		st.chats = append(st.chats, chat)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

type orderRepo struct{ *repositories }

func (r orderRepo) Create(ctx context.Context, order *models.Order) error {
	if order == nil {
		return pkgerrors.ErrNilOrder
	}
	if !order.Status.Valid() {
		return pkgerrors.ErrInvalidOrderStatus
	}
	return r.write(ctx, func(st *state) error {
		if _, ok := st.orders[order.ID]; ok {
			return fmt.Errorf("order %s already exists", order.ID)
		}
		for _, o := range st.orders {
			if o.ChatID == order.ChatID {
				return fmt.Errorf("chat %s already has an order", order.ChatID)
			}
		}
		now := r.store.now()
		order.CreatedAt = now
		order.UpdatedAt = now
		st.orders[order.ID] = *order
		st.orderSeq = append(st.orderSeq, order.ID)
		return nil
	})
}

func (r orderRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := r.read(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return pkgerrors.ErrOrderNotFound
		}
		order = &o
		return nil
	})
	return order, err
}

func (r orderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.GetByID(ctx, id)
}

func (r orderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, pkgerrors.ErrInvalidOrderStatus
	}
	var order models.Order
	err := r.write(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return pkgerrors.ErrOrderNotFound
		}
		o.Status = status
		o.UpdatedAt = r.store.now()
		st.orders[id] = o
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r orderRepo) ListByUser(_ context.Context, userID int64, status *models.OrderStatus) ([]models.Order, error) {
	orders := []models.Order{}
	err := r.read(func(st *state) error {
		for i := len(st.orderSeq) - 1; i >= 0; i-- {
			o := st.orders[st.orderSeq[i]]
			if o.BuyerID != userID && o.SellerID != userID {
				continue
			}
			if status != nil && o.Status != *status {
				continue
			}
			orders = append(orders, o)
		}
		return nil
	})
	return orders, err
}

func (r orderRepo) CountByStatus(_ context.Context, userID int64) (map[models.OrderStatus]int, error) {
	counts := make(map[models.OrderStatus]int)
	err := r.read(func(st *state) error {
		for _, o := range st.orders {
			if o.BuyerID == userID || o.SellerID == userID {
				counts[o.Status]++
			}
		}
		return nil
	})
	return counts, err
}

type escrowRepo struct{ *repositories }

func (r escrowRepo) Create(ctx context.Context, account *models.EscrowAccount) error {
	return r.write(ctx, func(st *state) error {
		if _, ok := st.escrowsByOrd[account.OrderID]; ok {
			return fmt.Errorf("order %s already has an escrow account", account.OrderID)
		}
		if account.Balance < 0 {
			return pkgerrors.ErrInvalidEscrowBalance
		}
		now := r.store.now()
		account.CreatedAt = now
		account.UpdatedAt = now
		st.escrows[account.ID] = *account
		st.escrowsByOrd[account.OrderID] = account.ID
		return nil
	})
}

func (r escrowRepo) GetByOrderID(_ context.Context, orderID uuid.UUID) (*models.EscrowAccount, error) {
	var account *models.EscrowAccount
	err := r.read(func(st *state) error {
		id, ok := st.escrowsByOrd[orderID]
		if !ok {
			return pkgerrors.ErrEscrowNotFound
		}
		a := st.escrows[id]
		account = &a
		return nil
	})
	return account, err
}

func (r escrowRepo) GetByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.EscrowAccount, error) {
	return r.GetByOrderID(ctx, orderID)
}

func (r escrowRepo) AddBalance(ctx context.Context, id uuid.UUID, delta int64) (int64, error) {
	var balance int64
	err := r.write(ctx, func(st *state) error {
		a, ok := st.escrows[id]
		if !ok || a.Status != models.EscrowHeld || a.Balance+delta < 0 {
			return fmt.Errorf("held escrow account %s: %w", id, pkgerrors.ErrEscrowNotFound)
		}
		a.Balance += delta
		a.UpdatedAt = r.store.now()
		st.escrows[id] = a
		balance = a.Balance
		return nil
	})
	return balance, err
}

func (r escrowRepo) Close(ctx context.Context, id uuid.UUID, status models.EscrowStatus) error {
	return r.write(ctx, func(st *state) error {
		a, ok := st.escrows[id]
		if !ok || a.Status != models.EscrowHeld {
			return fmt.Errorf("escrow account %s is not held: %w", id, pkgerrors.ErrEscrowStateConflict)
		}
		a.Status = status
		a.Balance = 0
		a.UpdatedAt = r.store.now()
		st.escrows[id] = a
		return nil
	})
}

type transactionRepo struct{ *repositories }

func (r transactionRepo) Create(ctx context.Context, tx *models.Transaction) (int64, error) {
	switch {
	case tx == nil:
		return 0, pkgerrors.ErrNilTransaction
	case !tx.Type.Valid():
		return 0, pkgerrors.ErrInvalidTransactionType
	case tx.Status != models.StatusCompleted:
		return 0, pkgerrors.ErrInvalidTransactionStatus
	case tx.Amount <= 0:
		return 0, pkgerrors.ErrInvalidAmount
	}

	err := r.write(ctx, func(st *state) error {
		if tx.Type == models.TypeDeposit && tx.Reference != "" {
			for _, existing := range st.transactions {
				if existing.Type == models.TypeDeposit && existing.Reference == tx.Reference {
					return pkgerrors.ErrDuplicateDeposit
				}
			}
		}
		st.nextTxID++
		tx.ID = st.nextTxID
		tx.CreatedAt = r.store.now()
		st.transactions = append(st.transactions, *tx)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return tx.ID, nil
}

func (r transactionRepo) ListByUser(_ context.Context, userID int64) ([]models.Transaction, error) {
	txs := []models.Transaction{}
	err := r.read(func(st *state) error {
		for i := len(st.transactions) - 1; i >= 0; i-- {
			if st.transactions[i].UserID == userID {
				txs = append(txs, st.transactions[i])
			}
		}
		return nil
	})
	return txs, err
}
