package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/honeynil/EscrowServiceTochka/internal/models"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// DepositHandler credits a confirmed payment to a user's balance.
type DepositHandler interface {
	Deposit(ctx context.Context, userID, amount int64, reference string) (*models.Transaction, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DepositConsumer reads payment gateway confirmations and turns them into
// DEPOSIT ledger entries. Offsets are committed only after the deposit was
// recorded or rejected for good, so a crash replays the message and the
// reference de-duplication absorbs the replay.
type DepositConsumer struct {
	reader  messageReader
	handler DepositHandler
}

func NewDepositConsumer(brokers []string, topic, groupID string, handler DepositHandler) *DepositConsumer {
	return &DepositConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		handler: handler,
	}
}

// Consume blocks until ctx is done.
func (c *DepositConsumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("deposit consumer stopped")
				return
			}
			slog.Error("failed to read Kafka message", "error", err)
			continue
		}

		if err := c.handleMessage(ctx, msg); err != nil {
			// Left uncommitted; redelivered after a rebalance or restart.
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit Kafka message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// handleMessage returns an error only for failures worth retrying.
// Malformed or duplicate deposits are logged and acknowledged.
func (c *DepositConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key), "offset", msg.Offset)

	var event models.DepositEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		slog.Error("failed to unmarshal deposit event", "offset", msg.Offset, "error", err)
		return nil
	}
	if event.UserID == 0 || event.Amount <= 0 || event.ExternalID == "" {
		slog.Error("invalid deposit event", "user_id", event.UserID, "amount", event.Amount, "external_id", event.ExternalID)
		return nil
	}

	tx, err := c.handler.Deposit(ctx, event.UserID, event.Amount, event.ExternalID)
	switch {
	case err == nil:
		slog.Info("deposit processed", "user_id", event.UserID, "amount", event.Amount, "transaction_id", tx.ID)
		return nil
	case errors.Is(err, pkgerrors.ErrDuplicateDeposit):
		slog.Warn("deposit already processed", "user_id", event.UserID, "external_id", event.ExternalID)
		return nil
	case errors.Is(err, pkgerrors.ErrUserNotFound), errors.Is(err, pkgerrors.ErrInvalidAmount):
		// TODO: route rejected deposits to a dead-letter topic for manual review
		slog.Error("deposit rejected", "user_id", event.UserID, "external_id", event.ExternalID, "error", err)
		return nil
	default:
		slog.Error("failed to process deposit", "user_id", event.UserID, "external_id", event.ExternalID, "error", err)
		return err
	}
}

func (c *DepositConsumer) Close() error {
	return c.reader.Close()
}
