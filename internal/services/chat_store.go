package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"roomcast/internal/domain/message"
	"roomcast/internal/domain/room"
	"roomcast/internal/proxy"
	"roomcast/internal/repository"
	roomcast_errors "roomcast/pkg/errors"
	"roomcast/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// UnavailableContent replaces the body of a message that could not be decrypted.
const UnavailableContent = "message unavailable"

// MaxReactionLength caps a reaction in characters.
const MaxReactionLength = 32

// Codec seals and opens message bodies.
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

type ChatStoreConfig struct {
	MaxBodyLength       int
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

// ReactionSummary is the tally of one reaction token on a message.
type ReactionSummary struct {
	Reaction string      `json:"reaction"`
	Count    int         `json:"count"`
	UserIDs  []uuid.UUID `json:"user_ids"`
}

// ChatStore is the persistence and authorization boundary for rooms,
// memberships, messages and reactions. Bodies are sealed by the codec before
// they reach a repository.
type ChatStore struct {
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	access   *proxy.AccessControl
	codec    Codec
	log      *logger.Logger
	cfg      ChatStoreConfig
}

// NewChatStore creates a new chat store
func NewChatStore(rooms repository.RoomRepository, messages repository.MessageRepository, codec Codec, log *logger.Logger, cfg ChatStoreConfig) *ChatStore {
	if cfg.HistoryDefaultLimit <= 0 {
		cfg.HistoryDefaultLimit = 50
	}
	if cfg.HistoryMaxLimit <= 0 {
		cfg.HistoryMaxLimit = 100
	}
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = 4000
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ChatStore{
		rooms:    rooms,
		messages: messages,
		access:   proxy.NewAccessControl(rooms),
		codec:    codec,
		log:      log,
		cfg:      cfg,
	}
}

func (s *ChatStore) MaxBodyLength() int {
	return s.cfg.MaxBodyLength
}

// CreateRoom inserts a room with its members. The creator always becomes the
// owner regardless of any role given for them in members.
func (s *ChatStore) CreateRoom(ctx context.Context, kind, name string, creatorID uuid.UUID, members []room.MemberSpec, metadata map[string]interface{}) (room.Room, error) {
	if !room.ValidKind(kind) {
		return room.Room{}, fmt.Errorf("invalid room kind %q: %w", kind, roomcast_errors.ErrInvalidInput)
	}
	if kind == room.KindDirect && len(members) != 2 {
		return room.Room{}, fmt.Errorf("direct room needs exactly 2 members, got %d: %w", len(members), roomcast_errors.ErrInvalidInput)
	}
	if creatorID == uuid.Nil {
		return room.Room{}, fmt.Errorf("creator required: %w", roomcast_errors.ErrInvalidInput)
	}

	now := time.Now().UTC()
	rm := room.Room{
		ID:        uuid.New(),
		Name:      sql.NullString{String: name, Valid: name != ""},
		Kind:      kind,
		IsActive:  true,
		Metadata:  datatypes.JSONMap(metadata),
		CreatedBy: uuid.NullUUID{UUID: creatorID, Valid: true},
	}

	memberships := []room.Membership{{UserID: creatorID, Role: room.RoleOwner, IsActive: true, JoinedAt: now}}
	seen := map[uuid.UUID]bool{creatorID: true}
	for _, spec := range members {
		if seen[spec.UserID] {
			continue
		}
		if spec.UserID == uuid.Nil {
			return room.Room{}, fmt.Errorf("member id required: %w", roomcast_errors.ErrInvalidInput)
		}
		role := spec.Role
		if role == "" {
			role = room.RoleMember
		}
		if !room.ValidRole(role) {
			return room.Room{}, fmt.Errorf("invalid role %q: %w", role, roomcast_errors.ErrInvalidInput)
		}
		seen[spec.UserID] = true
		memberships = append(memberships, room.Membership{UserID: spec.UserID, Role: role, IsActive: true, JoinedAt: now})
	}
	if kind == room.KindDirect && len(memberships) != 2 {
		return room.Room{}, fmt.Errorf("direct room needs 2 distinct members: %w", roomcast_errors.ErrInvalidInput)
	}

	if err := s.rooms.Create(ctx, &rm, memberships); err != nil {
		return room.Room{}, err
	}
	rm.Memberships = memberships
	return rm, nil
}

// IsMember reports whether userID actively belongs to roomID
func (s *ChatStore) IsMember(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	return s.access.IsMember(ctx, userID, roomID)
}

// EnsureMember is IsMember returning ErrUnauthorized on denial.
func (s *ChatStore) EnsureMember(ctx context.Context, userID, roomID uuid.UUID) error {
	return s.access.EnsureMember(ctx, userID, roomID)
}

// PostMessage seals and stores a message from a room member. The returned
// message already carries its plaintext Content. System messages go through
// PostSystemMessage only.
func (s *ChatStore) PostMessage(ctx context.Context, roomID, senderID uuid.UUID, kind, plaintext string, metadata map[string]interface{}) (message.Message, error) {
	if kind == message.KindSystem {
		return message.Message{}, fmt.Errorf("system messages need PostSystemMessage: %w", roomcast_errors.ErrInvalidInput)
	}
	if err := s.access.EnsureMember(ctx, senderID, roomID); err != nil {
		return message.Message{}, err
	}
	return s.post(ctx, roomID, uuid.NullUUID{UUID: senderID, Valid: true}, kind, plaintext, metadata)
}

// PostSystemMessage stores a message with no sender.
func (s *ChatStore) PostSystemMessage(ctx context.Context, roomID uuid.UUID, plaintext string, metadata map[string]interface{}) (message.Message, error) {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return message.Message{}, err
	}
	return s.post(ctx, roomID, uuid.NullUUID{}, message.KindSystem, plaintext, metadata)
}

func (s *ChatStore) post(ctx context.Context, roomID uuid.UUID, senderID uuid.NullUUID, kind, plaintext string, metadata map[string]interface{}) (message.Message, error) {
	if kind == "" {
		kind = message.KindText
	}
	if !message.ValidKind(kind) {
		return message.Message{}, fmt.Errorf("invalid message kind %q: %w", kind, roomcast_errors.ErrInvalidInput)
	}
	if err := s.ValidateBody(plaintext); err != nil {
		return message.Message{}, err
	}

	body, err := s.codec.Encrypt([]byte(plaintext))
	if err != nil {
		return message.Message{}, fmt.Errorf("encrypt message: %w", err)
	}
	id, createdAt, err := message.NewID()
	if err != nil {
		return message.Message{}, fmt.Errorf("generate message id: %w", err)
	}

	m := message.Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  senderID,
		Kind:      kind,
		Body:      body,
		Metadata:  datatypes.JSONMap(metadata),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := s.messages.Create(ctx, &m); err != nil {
		return message.Message{}, err
	}
	m.Content = plaintext
	return m, nil
}

// ValidateBody checks the plaintext against the configured length bounds.
func (s *ChatStore) ValidateBody(plaintext string) error {
	if strings.TrimSpace(plaintext) == "" {
		return fmt.Errorf("message content required: %w", roomcast_errors.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(plaintext); n > s.cfg.MaxBodyLength {
		return fmt.Errorf("message content is %d characters, max %d: %w", n, s.cfg.MaxBodyLength, roomcast_errors.ErrInvalidInput)
	}
	return nil
}

// EditMessage re-seals the body of a live message. Only the sender may edit.
func (s *ChatStore) EditMessage(ctx context.Context, roomID, messageID, callerID uuid.UUID, plaintext string) (message.Message, error) {
	if err := s.ValidateBody(plaintext); err != nil {
		return message.Message{}, err
	}
	m, err := s.liveMessage(ctx, roomID, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if err := s.access.CanEditMessage(callerID, m); err != nil {
		return message.Message{}, err
	}

	body, err := s.codec.Encrypt([]byte(plaintext))
	if err != nil {
		return message.Message{}, fmt.Errorf("encrypt message: %w", err)
	}
	updated, err := s.messages.UpdateBody(ctx, messageID, body)
	if err != nil {
		return message.Message{}, err
	}
	updated.Content = plaintext
	return updated, nil
}

// DeleteMessage soft-deletes a message. The sender or a room owner/admin may
// delete; deleting twice yields ErrNotFound.
func (s *ChatStore) DeleteMessage(ctx context.Context, roomID, messageID, callerID uuid.UUID) (bool, error) {
	m, err := s.liveMessage(ctx, roomID, messageID)
	if err != nil {
		return false, err
	}
	if err := s.access.CanDeleteMessage(ctx, callerID, m); err != nil {
		return false, err
	}
	if err := s.messages.SoftDelete(ctx, messageID); err != nil {
		return false, err
	}
	return true, nil
}

// AddReaction reports whether the reaction was newly added. Repeating an
// existing reaction succeeds without change.
func (s *ChatStore) AddReaction(ctx context.Context, roomID, messageID, userID uuid.UUID, reaction string) (bool, error) {
	if err := validateReaction(reaction); err != nil {
		return false, err
	}
	if _, err := s.liveMessage(ctx, roomID, messageID); err != nil {
		return false, err
	}
	return s.messages.AddReaction(ctx, &message.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Reaction:  reaction,
		CreatedAt: time.Now().UTC(),
	})
}

// RemoveReaction removes a reaction and reports whether one existed
func (s *ChatStore) RemoveReaction(ctx context.Context, roomID, messageID, userID uuid.UUID, reaction string) (bool, error) {
	if err := validateReaction(reaction); err != nil {
		return false, err
	}
	if _, err := s.liveMessage(ctx, roomID, messageID); err != nil {
		return false, err
	}
	return s.messages.RemoveReaction(ctx, messageID, userID, reaction)
}

// Reactions tallies a message's reactions in order of first use.
func (s *ChatStore) Reactions(ctx context.Context, messageID uuid.UUID) ([]ReactionSummary, error) {
	reactions, err := s.messages.GetMessageReactions(ctx, messageID)
	if err != nil {
		return nil, err
	}
	summaries := []ReactionSummary{}
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Reaction]
		if !ok {
			i = len(summaries)
			index[r.Reaction] = i
			summaries = append(summaries, ReactionSummary{Reaction: r.Reaction})
		}
		summaries[i].Count++
		summaries[i].UserIDs = append(summaries[i].UserIDs, r.UserID)
	}
	return summaries, nil
}

// FetchHistory returns up to limit live messages strictly older than before
// (or the newest page when before is unset), in chronological order. A message
// that fails to decrypt is returned as a placeholder.
func (s *ChatStore) FetchHistory(ctx context.Context, roomID uuid.UUID, before uuid.NullUUID, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = s.cfg.HistoryDefaultLimit
	}
	if limit > s.cfg.HistoryMaxLimit {
		limit = s.cfg.HistoryMaxLimit
	}
	if before.Valid {
		cursor, err := s.messages.GetByID(ctx, before.UUID)
		if err != nil {
			return nil, fmt.Errorf("history cursor %s: %w", before.UUID, err)
		}
		if cursor.RoomID != roomID {
			return nil, fmt.Errorf("history cursor %s: %w", before.UUID, roomcast_errors.ErrNotFound)
		}
	}

	messages, err := s.messages.GetRoomMessages(ctx, roomID, before, limit)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	for i := range messages {
		s.open(ctx, &messages[i])
	}
	return messages, nil
}

// MarkRead moves the member's read marker forward to messageID.
func (s *ChatStore) MarkRead(ctx context.Context, roomID, userID, messageID uuid.UUID) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.RoomID != roomID {
		return fmt.Errorf("message %s not in room %s: %w", messageID, roomID, roomcast_errors.ErrNotFound)
	}
	membership, err := s.rooms.GetMembership(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, roomcast_errors.ErrNotFound) {
			return fmt.Errorf("user %s is not a member of room %s: %w", userID, roomID, roomcast_errors.ErrUnauthorized)
		}
		return err
	}
	last := membership.LastReadMessageID
	if last.Valid && bytes.Compare(last.UUID[:], messageID[:]) >= 0 {
		return nil
	}
	return s.rooms.UpdateLastRead(ctx, roomID, userID, messageID)
}

// UnreadCount counts live messages from others after the member's read marker.
func (s *ChatStore) UnreadCount(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	membership, err := s.rooms.GetMembership(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, roomcast_errors.ErrNotFound) {
			return 0, fmt.Errorf("user %s is not a member of room %s: %w", userID, roomID, roomcast_errors.ErrUnauthorized)
		}
		return 0, err
	}
	return s.messages.CountAfter(ctx, roomID, userID, membership.LastReadMessageID)
}

// Decrypt fills m.Content from its sealed body.
func (s *ChatStore) Decrypt(ctx context.Context, m *message.Message) {
	s.open(ctx, m)
}

func (s *ChatStore) open(ctx context.Context, m *message.Message) {
	plaintext, err := s.codec.Decrypt(m.Body)
	if err != nil {
		s.log.WithContext(ctx).Error("failed to decrypt message",
			zap.String("message_id", m.ID.String()),
			zap.String("room_id", m.RoomID.String()),
			zap.Error(err),
		)
		m.Content = UnavailableContent
		m.Unavailable = true
		return
	}
	m.Content = string(plaintext)
}

func (s *ChatStore) liveMessage(ctx context.Context, roomID, messageID uuid.UUID) (message.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if m.RoomID != roomID || m.IsDeleted {
		return message.Message{}, fmt.Errorf("message %s: %w", messageID, roomcast_errors.ErrNotFound)
	}
	return m, nil
}

func validateReaction(reaction string) error {
	n := utf8.RuneCountInString(reaction)
	if strings.TrimSpace(reaction) == "" || n > MaxReactionLength {
		return fmt.Errorf("reaction must be 1..%d characters: %w", MaxReactionLength, roomcast_errors.ErrInvalidInput)
	}
	return nil
}
