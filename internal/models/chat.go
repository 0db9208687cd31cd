package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat is the conversation thread an order is attached to. Participants
// are stored as an ordered pair so a pair of users maps to one key.
type Chat struct {
	ID         uuid.UUID `json:"id"`
	LowUserID  int64     `json:"low_user_id"`
	HighUserID int64     `json:"high_user_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func ParticipantPair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}
