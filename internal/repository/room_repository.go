package repository

import (
	"context"
	"fmt"
	"time"

	"roomcast/internal/domain/room"
	roomcast_errors "roomcast/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresRoomRepository struct {
	db *gorm.DB
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &PostgresRoomRepository{db: db}
}

func (r *PostgresRoomRepository) Create(ctx context.Context, rm *room.Room, members []room.Membership) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(rm).Error; err != nil {
			if isUniqueViolation(err) {
				return roomcast_errors.ErrAlreadyExists
			}
			return err
		}
		if len(members) == 0 {
			return nil
		}
		for i := range members {
			members[i].RoomID = rm.ID
		}
		if err := tx.Create(&members).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("duplicate member: %w", roomcast_errors.ErrAlreadyExists)
			}
			return err
		}
		return nil
	})
}

func (r *PostgresRoomRepository) GetByID(ctx context.Context, id uuid.UUID) (room.Room, error) {
	var rm room.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rm).Error
	if err != nil {
		if notFound(err) {
			return room.Room{}, roomcast_errors.ErrNotFound
		}
		return room.Room{}, err
	}
	return rm, nil
}

// GetMembership returns the active membership of userID in an active room.
func (r *PostgresRoomRepository) GetMembership(ctx context.Context, roomID, userID uuid.UUID) (room.Membership, error) {
	var m room.Membership
	err := r.activeMemberships(ctx).
		Where("room_memberships.room_id = ? AND room_memberships.user_id = ?", roomID, userID).
		First(&m).Error
	if err != nil {
		if notFound(err) {
			return room.Membership{}, roomcast_errors.ErrNotFound
		}
		return room.Membership{}, err
	}
	return m, nil
}

func (r *PostgresRoomRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.activeMemberships(ctx).
		Where("room_memberships.room_id = ? AND room_memberships.user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PostgresRoomRepository) UpdateLastRead(ctx context.Context, roomID, userID, messageID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&room.Membership{}).
		Where("room_id = ? AND user_id = ? AND is_active = ?", roomID, userID, true).
		Updates(map[string]interface{}{
			"last_read_message_id": uuid.NullUUID{UUID: messageID, Valid: true},
			"updated_at":           time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return roomcast_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresRoomRepository) activeMemberships(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&room.Membership{}).
		Joins("JOIN rooms ON rooms.id = room_memberships.room_id").
		Where("room_memberships.is_active = ? AND rooms.is_active = ?", true, true)
}
