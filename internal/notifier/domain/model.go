package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Message describes one fulfilled order to announce. It carries everything
// the provider needs so delivery never reads the database.
type Message struct {
	OrderID   snowflake.ID
	Reference string
	PayerID   string
	SubjectID string
	Amount    int64
	Currency  string
	GrantedAt time.Time
}

// Provider delivers a fulfillment notice over one channel (email, webhook).
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}
