package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/honeynil/EscrowServiceTochka/internal/models"
	"github.com/honeynil/EscrowServiceTochka/internal/repository"
	"github.com/honeynil/EscrowServiceTochka/internal/repository/memory"
	"github.com/stretchr/testify/mock"
)

type mockRedisClient struct {
	mock.Mock
}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}

func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, expiration)
	return args.Bool(0), args.Error(1)
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRedisClient) Close() error {
	return m.Called().Error(0)
}

type mockKafkaProducer struct {
	mock.Mock
}

func (m *mockKafkaProducer) Send(ctx context.Context, topic, key string, value []byte) error {
	return m.Called(ctx, topic, key, value).Error(0)
}

func (m *mockKafkaProducer) Close() error {
	return m.Called().Error(0)
}

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// fixture is a buyer, a seller and one of the seller's pricing tiers.
type fixture struct {
	store  *memory.Store
	svc    *orderService
	buyer  models.User
	seller models.User
	tier   models.PricingTier
}

func newFixture(t *testing.T, buyerBalance, price int64) *fixture {
	t.Helper()

	store := memory.NewStore()
	buyer := store.AddUser("buyer", buyerBalance)
	seller := store.AddUser("seller", 0)
	svc := store.AddService(seller.ID, "Logo design")
	tier := store.AddPricingTier(models.PricingTier{
		ServiceID: svc.ID,
		Price:     price,
		Duration:  90,
		Variant:   models.VariantStandard,
	})

	service := NewOrderService(store, nil, nil, "")
	service.now = func() time.Time { return fixedNow }

	return &fixture{store: store, svc: service, buyer: buyer, seller: seller, tier: tier}
}

func (f *fixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	user, err := f.store.Users().GetByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load user %d: %v", userID, err)
	}
	return user.Balance
}

func (f *fixture) transactionsOfType(t *testing.T, userID int64, txType models.TransactionType) []models.Transaction {
	t.Helper()
	txs, err := f.store.Transactions().ListByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("list transactions of %d: %v", userID, err)
	}
	var matched []models.Transaction
	for _, tx := range txs {
		if tx.Type == txType {
			matched = append(matched, tx)
		}
	}
	return matched
}

var errDiskFull = errors.New("disk full")

// failingTransactionsStore fails every transaction append made inside an
// atomic unit.
type failingTransactionsStore struct {
	*memory.Store
}

func (s failingTransactionsStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return fn(ctx, failingTransactionsRepos{repos})
	})
}

type failingTransactionsRepos struct {
	repository.Repositories
}

func (failingTransactionsRepos) Transactions() repository.TransactionRepository {
	return failingTransactions{}
}

type failingTransactions struct{}

func (failingTransactions) Create(context.Context, *models.Transaction) (int64, error) {
	return 0, errDiskFull
}

func (failingTransactions) ListByUser(context.Context, int64) ([]models.Transaction, error) {
	return nil, errDiskFull
}
