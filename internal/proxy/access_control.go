package proxy

import (
	"context"
	"errors"
	"fmt"

	"roomcast/internal/domain/message"
	"roomcast/internal/domain/room"
	"roomcast/internal/repository"
	roomcast_errors "roomcast/pkg/errors"

	"github.com/google/uuid"
)

// AccessControl answers room-scoped authorization questions. Every denial
// wraps ErrUnauthorized.
type AccessControl struct {
	roomRepo repository.RoomRepository
}

func NewAccessControl(roomRepo repository.RoomRepository) *AccessControl {
	return &AccessControl{roomRepo: roomRepo}
}

func (a *AccessControl) IsMember(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	if a.roomRepo == nil {
		return false, nil
	}
	return a.roomRepo.IsMember(ctx, roomID, userID)
}

func (a *AccessControl) EnsureMember(ctx context.Context, userID, roomID uuid.UUID) error {
	ok, err := a.IsMember(ctx, userID, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s is not a member of room %s: %w", userID, roomID, roomcast_errors.ErrUnauthorized)
	}
	return nil
}

// CanEditMessage allows only the original sender.
func (a *AccessControl) CanEditMessage(userID uuid.UUID, m message.Message) error {
	if !m.SenderID.Valid || m.SenderID.UUID != userID {
		return fmt.Errorf("user %s did not send message %s: %w", userID, m.ID, roomcast_errors.ErrUnauthorized)
	}
	return nil
}

// CanDeleteMessage allows the sender or a room owner/admin.
func (a *AccessControl) CanDeleteMessage(ctx context.Context, userID uuid.UUID, m message.Message) error {
	if m.SenderID.Valid && m.SenderID.UUID == userID {
		return nil
	}
	if a.roomRepo == nil {
		return roomcast_errors.ErrUnauthorized
	}
	membership, err := a.roomRepo.GetMembership(ctx, m.RoomID, userID)
	if err != nil {
		if errors.Is(err, roomcast_errors.ErrNotFound) {
			return fmt.Errorf("user %s is not a member of room %s: %w", userID, m.RoomID, roomcast_errors.ErrUnauthorized)
		}
		return err
	}
	if !room.CanModerate(membership.Role) {
		return fmt.Errorf("role %s cannot delete others' messages: %w", membership.Role, roomcast_errors.ErrUnauthorized)
	}
	return nil
}
