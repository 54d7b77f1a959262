package repository

import (
	"fmt"

	"roomcast/internal/domain/message"
	"roomcast/internal/domain/room"

	"gorm.io/gorm"
)

// Models lists every table owned by the chat store, in creation order.
func Models() []interface{} {
	return []interface{}{
		&room.Room{},
		&room.Membership{},
		&message.Message{},
		&message.Reaction{},
	}
}

// InitSchema runs gorm auto-migration for all chat tables.
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// Truncate removes all rows, children first. Used by the migrate CLI.
func Truncate(db *gorm.DB) error {
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(models[i]).Error; err != nil {
			return fmt.Errorf("truncate %T: %w", models[i], err)
		}
	}
	return nil
}

// TableStatus reports whether each chat table exists.
func TableStatus(db *gorm.DB) map[string]bool {
	status := make(map[string]bool)
	for _, model := range Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			continue
		}
		status[stmt.Schema.Table] = db.Migrator().HasTable(model)
	}
	return status
}
