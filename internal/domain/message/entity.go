package message

import (
	"database/sql"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Message kinds
const (
	KindText   = "text"
	KindImage  = "image"
	KindFile   = "file"
	KindSystem = "system"
	KindAction = "action"
)

// Message represents the messages table. Body holds the sealed blob produced
// by the encryption codec; Content is only populated after decryption.
type Message struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey;index:idx_messages_room_id_id,priority:2"`
	RoomID    uuid.UUID     `gorm:"type:uuid;not null;index:idx_messages_room_id_id,priority:1"`
	SenderID  uuid.NullUUID `gorm:"type:uuid"`
	Kind      string        `gorm:"size:16;not null"`
	Body      []byte        `gorm:"not null"`
	Metadata  datatypes.JSONMap
	IsDeleted bool `gorm:"not null"`
	DeletedAt sql.NullTime
	CreatedAt time.Time
	UpdatedAt time.Time

	Content     string `gorm:"-"`
	Unavailable bool   `gorm:"-"`
}

// Reaction represents message_reactions
type Reaction struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Reaction  string    `gorm:"size:32;primaryKey"`
	CreatedAt time.Time
}

func (Message) TableName() string {
	return "messages"
}

func (Reaction) TableName() string {
	return "message_reactions"
}

func ValidKind(kind string) bool {
	switch kind {
	case KindText, KindImage, KindFile, KindSystem, KindAction:
		return true
	}
	return false
}

// NewID returns a time-ordered (v7) id, so sorting by id matches creation order.
func NewID() (uuid.UUID, time.Time, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return id, IDTime(id), nil
}

// IDTime extracts the millisecond timestamp embedded in a v7 id.
func IDTime(id uuid.UUID) time.Time {
	ms := binary.BigEndian.Uint64(id[:8]) >> 16
	return time.UnixMilli(int64(ms)).UTC()
}
