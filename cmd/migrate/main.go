package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"roomcast/config"
	"roomcast/internal/domain/room"
	"roomcast/internal/encryption"
	"roomcast/internal/repository"
	"roomcast/internal/services"
	"roomcast/pkg/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const usage = `
Roomcast - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Create or update all chat tables
  status      Show database connection and table status
  seed        Create a demo room and print member access tokens
  truncate    Delete all rows from every chat table (DANGEROUS)

Flags:
  -members int        Number of demo members to seed (default 3)
  -room-name string   Name of the seeded room (default "lobby")
  -token-ttl duration Lifetime of the printed access tokens (default 24h)

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
  go run cmd/migrate/main.go -members 5 seed
`

func main() {
	members := flag.Int("members", 3, "Number of demo members to seed")
	roomName := flag.String("room-name", "lobby", "Name of the seeded room")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of the printed access tokens")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer func() { _ = database.Close(db) }()

	switch command {
	case "up":
		runMigrationsUp(db)
	case "status":
		showStatus(db)
	case "seed":
		runSeed(cfg, db, *roomName, *members, *tokenTTL)
	case "truncate":
		runTruncate(db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(db *gorm.DB) {
	log.Println("🚀 Running migrations UP...")

	if err := repository.InitSchema(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func showStatus(db *gorm.DB) {
	log.Println("🔍 Checking database status...")

	if err := database.HealthCheck(context.Background(), db); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	status := repository.TableStatus(db)
	tables := make([]string, 0, len(status))
	for table := range status {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		if !status[table] {
			log.Printf("❌ Table %-20s does not exist", table)
			continue
		}
		var count int64
		db.Table(table).Count(&count)
		log.Printf("✅ Table %-20s exists (%d rows)", table, count)
	}
}

func runSeed(cfg *config.Config, db *gorm.DB, name string, n int, ttl time.Duration) {
	log.Println("🌱 Seeding demo room...")
	if n < 1 {
		log.Fatalf("❌ -members must be at least 1")
	}
	if err := repository.InitSchema(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	codec, err := encryption.NewCodec(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("❌ ENCRYPTION_KEY: %v", err)
	}
	store := services.NewChatStore(repository.NewRoomRepository(db), repository.NewMessageRepository(db), codec, nil, services.ChatStoreConfig{
		MaxBodyLength: cfg.MaxBodyLength,
	})
	auth := services.NewAuthService(cfg.JWTSecret)

	ctx := context.Background()
	users := make([]uuid.UUID, n)
	specs := make([]room.MemberSpec, 0, n)
	for i := range users {
		users[i] = uuid.New()
		specs = append(specs, room.MemberSpec{UserID: users[i]})
	}

	r, err := store.CreateRoom(ctx, room.KindGroup, name, users[0], specs, map[string]interface{}{"seeded": true})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}
	if _, err := store.PostSystemMessage(ctx, r.ID, fmt.Sprintf("Welcome to %s", name), nil); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("📊 Room %s (%s)", name, r.ID)
	for i, userID := range users {
		token, err := auth.IssueAccessToken(userID, ttl)
		if err != nil {
			log.Fatalf("❌ Token for %s: %v", userID, err)
		}
		role := room.RoleMember
		if i == 0 {
			role = room.RoleOwner
		}
		log.Printf("   - %s %-6s token=%s", userID, role, token)
	}
	log.Println("✅ Seeding completed!")
}

func runTruncate(db *gorm.DB) {
	log.Println("⚠️  WARNING: This will TRUNCATE all tables!")

	if err := repository.Truncate(db); err != nil {
		log.Fatalf("❌ Truncate failed: %v", err)
	}

	log.Println("✅ All tables truncated!")
}
