package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	"github.com/honeynil/EscrowServiceTochka/internal/repository"
)

type state struct {
	users        map[int64]models.User
	services     map[int64]models.Service
	tiers        map[int64]models.PricingTier
	chats        []models.Chat
	orders       map[uuid.UUID]models.Order
	orderSeq     []uuid.UUID
	escrows      map[uuid.UUID]models.EscrowAccount
	escrowsByOrd map[uuid.UUID]uuid.UUID
	transactions []models.Transaction
	nextUserID   int64
	nextSvcID    int64
	nextTierID   int64
	nextTxID     int64
}

func newState() *state {
	return &state{
		users:        make(map[int64]models.User),
		services:     make(map[int64]models.Service),
		tiers:        make(map[int64]models.PricingTier),
		orders:       make(map[uuid.UUID]models.Order),
		escrows:      make(map[uuid.UUID]models.EscrowAccount),
		escrowsByOrd: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *state) clone() *state {
	return &state{
		users:        maps.Clone(s.users),
		services:     maps.Clone(s.services),
		tiers:        maps.Clone(s.tiers),
		chats:        slices.Clone(s.chats),
		orders:       maps.Clone(s.orders),
		orderSeq:     slices.Clone(s.orderSeq),
		escrows:      maps.Clone(s.escrows),
		escrowsByOrd: maps.Clone(s.escrowsByOrd),
		transactions: slices.Clone(s.transactions),
		nextUserID:   s.nextUserID,
		nextSvcID:    s.nextSvcID,
		nextTierID:   s.nextTierID,
		nextTxID:     s.nextTxID,
	}
}

// Store keeps the ledger in process memory. Atomic units hold a single
// writer lock and work on a copy of the state that replaces the live
// state only on success, so units are serialisable and roll back fully.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

func NewStore() *Store {
	return &Store{st: newState(), now: time.Now}
}

func (s *Store) bound(st *state, inTx bool) *repositories {
	return &repositories{store: s, st: st, inTx: inTx}
}

func (s *Store) Users() repository.UserRepository               { return s.bound(nil, false).Users() }
func (s *Store) Catalog() repository.CatalogRepository          { return s.bound(nil, false).Catalog() }
func (s *Store) Chats() repository.ChatRepository               { return s.bound(nil, false).Chats() }
func (s *Store) Orders() repository.OrderRepository             { return s.bound(nil, false).Orders() }
func (s *Store) Escrows() repository.EscrowRepository           { return s.bound(nil, false).Escrows() }
func (s *Store) Transactions() repository.TransactionRepository { return s.bound(nil, false).Transactions() }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, s.bound(work, true)); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Close() error {
	return nil
}

// AddUser seeds a user with an opening balance.
func (s *Store) AddUser(username string, balance int64) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.nextUserID++
	u := models.User{ID: s.st.nextUserID, Username: username, Balance: balance, CreatedAt: s.now()}
	s.st.users[u.ID] = u
	return u
}

// AddService seeds a service listing owned by sellerID.
func (s *Store) AddService(sellerID int64, title string) models.Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.nextSvcID++
	svc := models.Service{ID: s.st.nextSvcID, SellerID: sellerID, Title: title}
	s.st.services[svc.ID] = svc
	return svc
}

func (s *Store) AddPricingTier(tier models.PricingTier) models.PricingTier {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.nextTierID++
	tier.ID = s.st.nextTierID
	tier.Service = nil
	s.st.tiers[tier.ID] = tier
	return tier
}

func (s *Store) SoftDeleteUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.st.users[id]; ok {
		now := s.now()
		u.DeletedAt = &now
		s.st.users[id] = u
	}
}

func (s *Store) SoftDeleteService(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.st.services[id]; ok {
		now := s.now()
		svc.DeletedAt = &now
		s.st.services[id] = svc
	}
}

// ChatCount returns the number of chats between the two users.
func (s *Store) ChatCount(userA, userB int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	low, high := models.ParticipantPair(userA, userB)
	n := 0
	for _, c := range s.st.chats {
		if c.LowUserID == low && c.HighUserID == high {
			n++
		}
	}
	return n
}

// EscrowTotal returns the sum of all escrow balances.
func (s *Store) EscrowTotal() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, e := range s.st.escrows {
		total += e.Balance
	}
	return total
}
