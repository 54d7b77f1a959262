package repository

import (
	"context"

	"github.com/google/uuid"

	"roomcast/internal/domain/message"
	"roomcast/internal/domain/room"
)

type RoomRepository interface {
	// Create inserts the room and its memberships in one transaction.
	Create(ctx context.Context, r *room.Room, members []room.Membership) error
	GetByID(ctx context.Context, id uuid.UUID) (room.Room, error)
	GetMembership(ctx context.Context, roomID, userID uuid.UUID) (room.Membership, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	UpdateLastRead(ctx context.Context, roomID, userID, messageID uuid.UUID) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	UpdateBody(ctx context.Context, id uuid.UUID, body []byte) (message.Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// GetRoomMessages returns live messages older than before (newest first).
	GetRoomMessages(ctx context.Context, roomID uuid.UUID, before uuid.NullUUID, limit int) ([]message.Message, error)
	CountAfter(ctx context.Context, roomID, userID uuid.UUID, after uuid.NullUUID) (int64, error)

	AddReaction(ctx context.Context, r *message.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID uuid.UUID, reaction string) (bool, error)
	GetMessageReactions(ctx context.Context, messageID uuid.UUID) ([]message.Reaction, error)
}
