// Package store is the boundary to the durable data store holding users,
// messages, and location-derived activity. Route handlers reach it only
// through the caching/throttling pipeline, never directly from middleware.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	LastOnline time.Time `json:"lastonline"`
}

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewMessage is the insert payload for a message.
type NewMessage struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// Store is the read/write surface handlers use. Implementations must be safe
// for concurrent use.
type Store interface {
	// ListUsers returns all users except excludeID, most recently active first.
	ListUsers(ctx context.Context, excludeID string) ([]User, error)
	// Thread returns up to 100 messages between the two users, oldest first.
	Thread(ctx context.Context, userID, partnerID string) ([]Message, error)
	InsertMessage(ctx context.Context, m NewMessage) (Message, error)
	// MarkThreadRead flags messages from senderID to receiverID as read.
	MarkThreadRead(ctx context.Context, receiverID, senderID string) error
	// TouchLastOnline bumps the user's activity timestamp.
	TouchLastOnline(ctx context.Context, userID string) error
	Profile(ctx context.Context, id string) (User, error)
	CreateProfile(ctx context.Context, u User) error
}
