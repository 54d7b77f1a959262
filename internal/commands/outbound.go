package commands

import (
	"encoding/json"
	"time"

	"roomcast/internal/domain/message"
	"roomcast/internal/events"
	roomcast_errors "roomcast/pkg/errors"
)

// Outbound is every server-to-client frame: acks, errors and room events.
type Outbound struct {
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	Error   *string     `json:"error"`
	Data    interface{} `json:"data"`
}

type errorData struct {
	Code    string `json:"code"`
	Command string `json:"command,omitempty"`
}

// MessageView is the wire form of a stored message.
type MessageView struct {
	ID          string                 `json:"id"`
	RoomID      string                 `json:"room_id"`
	SenderID    *string                `json:"sender_id"`
	Kind        string                 `json:"kind"`
	Content     string                 `json:"content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Unavailable bool                   `json:"unavailable,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

func NewMessageView(m message.Message) MessageView {
	v := MessageView{
		ID:          m.ID.String(),
		RoomID:      m.RoomID.String(),
		Kind:        m.Kind,
		Content:     m.Content,
		Metadata:    m.Metadata,
		Unavailable: m.Unavailable,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.SenderID.Valid {
		sender := m.SenderID.UUID.String()
		v.SenderID = &sender
	}
	return v
}

func messageViews(ms []message.Message) []MessageView {
	views := make([]MessageView, 0, len(ms))
	for _, m := range ms {
		views = append(views, NewMessageView(m))
	}
	return views
}

func encode(out Outbound) []byte {
	if out.Data == nil {
		out.Data = struct{}{}
	}
	b, err := json.Marshal(out)
	if err != nil {
		// Data is always built from marshalable types.
		panic(err)
	}
	return b
}

func ackFrame(kind Kind, data interface{}) []byte {
	return encode(Outbound{Type: kind.String() + events.AckSuffix, Success: true, Data: data})
}

func eventFrame(eventType string, data interface{}) []byte {
	return encode(Outbound{Type: eventType, Success: true, Data: data})
}

// internalErrorMessage stands in for storage and driver errors, which are
// logged but never sent to clients.
const internalErrorMessage = "internal server error"

// errorFrame reports err under frameType with its wire code.
func errorFrame(frameType string, command string, err error) []byte {
	msg := err.Error()
	if roomcast_errors.Code(err) == roomcast_errors.CodeInternal {
		msg = internalErrorMessage
	}
	return encode(Outbound{
		Type:    frameType,
		Success: false,
		Error:   &msg,
		Data:    errorData{Code: roomcast_errors.Code(err), Command: command},
	})
}
