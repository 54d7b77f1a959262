package room

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Room kinds
const (
	KindDirect       = "direct"
	KindGroup        = "group"
	KindOrganization = "scoped-to-organization"
	KindSupport      = "support"
)

// Membership roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleGuest  = "guest"
)

// Room represents the rooms table
type Room struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      sql.NullString
	Kind      string `gorm:"size:32;not null"`
	IsActive  bool   `gorm:"not null"`
	Metadata  datatypes.JSONMap
	CreatedBy uuid.NullUUID `gorm:"type:uuid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Relationships
	Memberships []Membership `gorm:"foreignKey:RoomID"`
}

// Membership represents room_memberships. Inactive rows are kept so a
// re-added user keeps their read marker.
type Membership struct {
	RoomID            uuid.UUID     `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID     `gorm:"type:uuid;primaryKey;index"`
	Role              string        `gorm:"size:16;not null"`
	LastReadMessageID uuid.NullUUID `gorm:"type:uuid"`
	IsActive          bool          `gorm:"not null"`
	JoinedAt          time.Time
	UpdatedAt         time.Time
}

// MemberSpec names a user to add when a room is created.
type MemberSpec struct {
	UserID uuid.UUID
	Role   string
}

func (Room) TableName() string {
	return "rooms"
}

func (Membership) TableName() string {
	return "room_memberships"
}

func ValidKind(kind string) bool {
	switch kind {
	case KindDirect, KindGroup, KindOrganization, KindSupport:
		return true
	}
	return false
}

func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest:
		return true
	}
	return false
}

// CanModerate reports whether the role may delete other members' messages.
func CanModerate(role string) bool {
	return role == RoleOwner || role == RoleAdmin
}
