package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"roomcast/internal/domain/message"
	"roomcast/internal/services"
	roomcast_errors "roomcast/pkg/errors"

	"github.com/google/uuid"
)

// Kind is the closed set of client commands.
type Kind int

const (
	KindJoinRoom Kind = iota + 1
	KindLeaveRoom
	KindSendMessage
	KindEditMessage
	KindDeleteMessage
	KindAddReaction
	KindRemoveReaction
	KindReadMessages
	KindTypingStart
	KindTypingStop
	KindFetchHistory
	KindPing

	kindCount
)

var kindNames = map[Kind]string{
	KindJoinRoom:       "join_room",
	KindLeaveRoom:      "leave_room",
	KindSendMessage:    "send_message",
	KindEditMessage:    "edit_message",
	KindDeleteMessage:  "delete_message",
	KindAddReaction:    "add_reaction",
	KindRemoveReaction: "remove_reaction",
	KindReadMessages:   "read_messages",
	KindTypingStart:    "typing_start",
	KindTypingStop:     "typing_stop",
	KindFetchHistory:   "fetch_history",
	KindPing:           "ping",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseKind(name string) (Kind, bool) {
	k, ok := kindsByName[name]
	return k, ok
}

// Kinds lists every command kind.
func Kinds() []Kind {
	kinds := make([]Kind, 0, kindCount-1)
	for k := KindJoinRoom; k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Envelope is the inbound frame.
type Envelope struct {
	Command string          `json:"command"`
	RoomID  *string         `json:"room_id"`
	Data    json.RawMessage `json:"data"`
}

// limits carries the bounds used by structural validation.
type limits struct {
	maxBodyLength int
}

// payload is the typed data of one command kind.
type payload interface {
	validate(l limits) error
}

type noData struct{}

func (noData) validate(limits) error { return nil }

type sendMessageData struct {
	Content  string                 `json:"content"`
	Kind     string                 `json:"kind"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (d sendMessageData) validate(l limits) error {
	if d.Kind == message.KindSystem {
		return fmt.Errorf("system messages cannot be sent by clients: %w", roomcast_errors.ErrInvalidInput)
	}
	return validateContent(d.Content, l)
}

type editMessageData struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

func (d editMessageData) validate(l limits) error {
	if _, err := parseID("message_id", d.MessageID); err != nil {
		return err
	}
	return validateContent(d.Content, l)
}

type messageRefData struct {
	MessageID string `json:"message_id"`
}

func (d messageRefData) validate(limits) error {
	_, err := parseID("message_id", d.MessageID)
	return err
}

type reactionData struct {
	MessageID string `json:"message_id"`
	Reaction  string `json:"reaction"`
}

func (d reactionData) validate(limits) error {
	if _, err := parseID("message_id", d.MessageID); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(d.Reaction); strings.TrimSpace(d.Reaction) == "" || n > services.MaxReactionLength {
		return fmt.Errorf("reaction must be 1..%d characters: %w", services.MaxReactionLength, roomcast_errors.ErrInvalidInput)
	}
	return nil
}

type historyData struct {
	BeforeMessageID *string `json:"before_message_id"`
	Limit           int     `json:"limit"`
}

func (d historyData) validate(limits) error {
	if d.Limit < 0 {
		return fmt.Errorf("limit must not be negative: %w", roomcast_errors.ErrInvalidInput)
	}
	if d.BeforeMessageID != nil && *d.BeforeMessageID != "" {
		if _, err := parseID("before_message_id", *d.BeforeMessageID); err != nil {
			return err
		}
	}
	return nil
}

func (d historyData) before() uuid.NullUUID {
	if d.BeforeMessageID == nil || *d.BeforeMessageID == "" {
		return uuid.NullUUID{}
	}
	id, _ := uuid.Parse(*d.BeforeMessageID)
	return uuid.NullUUID{UUID: id, Valid: true}
}

func validateContent(content string, l limits) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content required: %w", roomcast_errors.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(content); n > l.maxBodyLength {
		return fmt.Errorf("content is %d characters, max %d: %w", n, l.maxBodyLength, roomcast_errors.ErrInvalidInput)
	}
	return nil
}

// parseID parses a required id field; a missing or malformed id is a
// protocol violation.
func parseID(field, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("%s required: %w", field, roomcast_errors.ErrProtocol)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %q is not a valid id: %w", field, value, roomcast_errors.ErrProtocol)
	}
	return id, nil
}

func mustID(value string) uuid.UUID {
	id, _ := uuid.Parse(value)
	return id
}
