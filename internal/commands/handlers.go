package commands

import (
	"context"
	"fmt"
	"time"

	"roomcast/internal/events"
	"roomcast/internal/services"
	roomcast_errors "roomcast/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	reactionAdded   = "added"
	reactionRemoved = "removed"
)

func (p *Protocol) joinRoom(ctx context.Context, call *Call, _ noData) error {
	if err := p.store.EnsureMember(ctx, call.UserID, call.RoomID); err != nil {
		return err
	}
	if err := p.registry.JoinRoom(call.Conn.ID(), call.RoomID.String()); err != nil {
		return err
	}

	unread, err := p.store.UnreadCount(ctx, call.RoomID, call.UserID)
	if err != nil {
		p.log.WithContext(ctx).Warn("unread count failed", zap.String("room_id", call.RoomID.String()), zap.Error(err))
		unread = 0
	}
	p.reply(call.Conn, ackFrame(call.Kind, map[string]interface{}{
		"room_id":      call.RoomID,
		"unread_count": unread,
	}))
	return nil
}

func (p *Protocol) leaveRoom(ctx context.Context, call *Call, _ noData) error {
	if !p.registry.LeaveRoom(call.Conn.ID(), call.RoomID.String()) {
		return fmt.Errorf("connection is not in room %s: %w", call.RoomID, roomcast_errors.ErrNotFound)
	}
	p.reply(call.Conn, ackFrame(call.Kind, map[string]interface{}{"room_id": call.RoomID}))
	return nil
}

func (p *Protocol) sendMessage(ctx context.Context, call *Call, data sendMessageData) error {
	if err := p.store.EnsureMember(ctx, call.UserID, call.RoomID); err != nil {
		return err
	}
	if err := p.allowMessage(ctx, call.UserID); err != nil {
		return err
	}

	m, err := p.store.PostMessage(ctx, call.RoomID, call.UserID, data.Kind, data.Content, data.Metadata)
	if err != nil {
		return err
	}
	view := NewMessageView(m)
	p.bus.Deliver(ctx, call.RoomID.String(), eventFrame(events.EventMessageReceived, map[string]interface{}{"message": view}), "")
	p.reply(call.Conn, ackFrame(call.Kind, map[string]interface{}{"message_id": view.ID, "created_at": view.CreatedAt}))
	return nil
}

// allowMessage applies the shared per-user send limit. Limiter errors let
// the message through.
func (p *Protocol) allowMessage(ctx context.Context, userID uuid.UUID) error {
	if p.limiter == nil {
		return nil
	}
	res, err := p.limiter.AllowMessage(ctx, userID.String())
	if err != nil {
		p.log.WithContext(ctx).Warn("message rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return fmt.Errorf("message limit of %d reached, retry in %s: %w", res.Limit, res.ResetIn.Round(time.Second), roomcast_errors.ErrRateLimited)
	}
	return nil
}

func (p *Protocol) editMessage(ctx context.Context, call *Call, data editMessageData) error {
	if err := p.store.EnsureMember(ctx, call.UserID, call.RoomID); err != nil {
		return err
	}
	m, err := p.store.EditMessage(ctx, call.RoomID, mustID(data.MessageID), call.UserID, data.Content)
	if err != nil {
		return err
	}
	view := NewMessageView(m)
	p.bus.Deliver(ctx, call.RoomID.String(), eventFrame(events.EventMessageEdited, map[string]interface{}{"message": view}), "")
	p.reply(call.Conn, ackFrame(call.Kind, map[string]interface{}{"message_id": view.ID, "updated_at": view.UpdatedAt}))
	return nil
}

func (p *Protocol) deleteMessage(ctx context.Context, call *Call, data messageRefData) error {
	if err := p.store.EnsureMember(ctx, call.UserID, call.RoomID); err != nil {
		return err
	}
	messageID := mustID(data.MessageID)
	if _, err := p.store.DeleteMessage(ctx, call.RoomID, messageID, call.UserID); err != nil {
		return err
	}
	p.bus.Deliver(ctx, call.RoomID.String(), eventFrame(events.EventMessageDeleted, map[string]interface{}{
		"message_id": messageID,
		"room_id":    call.RoomID,
		"deleted_by": call.UserID,
	}), "")
	p.reply(call.Conn, ackFrame(call.Kind, map[string]interface{}{"message_id": messageID}))
	return nil
}

func (p *Protocol) addReaction(ctx context.Context, call *Call, data reactionData) error {
	if err := p.store.EnsureMember(ctx, call.UserID, call.RoomID); err != nil {
		return err
	}
	messageID := mustID(data.MessageID)
	changed, err := p.store.AddReaction(ctx, call.RoomID, messageID, call.UserID, data.Reaction)
	if err != nil {
		return err
	}
	return p.reactionChanged(ctx, call, messageID, data.Reaction, reactionAdded, changed)
}

func (p *Protocol) removeReaction(ctx context.Context, call *Call, data reactionData) error {
	if err := p.store.EnsureMember(ctx, call.UserID, call.RoomID); err != nil {
		return err
	}
	messageID := mustID(data.MessageID)
	changed, err := p.store.RemoveReaction(ctx, call.RoomID, messageID, call.UserID, data.Reaction)
	if err != nil {
		return err
	}
	return p.reactionChanged(ctx, call, messageID, data.Reaction, reactionRemoved, changed)
}

// reactionChanged broadcasts the message's tally after a change. A repeated
// add or a remove of an absent reaction is acked without an event.
func (p *Protocol) reactionChanged(ctx context.Context, call *Call, messageID uuid.UUID, reaction, action string, changed bool) error {
	if changed {
		tally, err := p.store.Reactions(ctx, messageID)
		if err != nil {
			return err
		}
		if tally == nil {
			tally = []services.ReactionSummary{}
		}
		p.bus.Deliver(ctx, call.RoomID.String(), eventFrame(events.EventReactionChanged, map[string]interface{}{
			"message_id": messageID,
			"room_id":    call.RoomID,
			"user_id":    call.UserID,
			"reaction":   reaction,
			"action":     action,
			"reactions":  tally,
		}), "")
	}
	p.reply(call.Conn, ackFrame(call.Kind, map[string]interface{}{
		"message_id": messageID,
		"reaction":   reaction,
		"changed":    changed,
	}))
	return nil
}

func (p *Protocol) readMessages(ctx context.Context, call *Call, data messageRefData) error {
	if err := p.store.EnsureMember(ctx, call.UserID, call.RoomID); err != nil {
		return err
	}
	messageID := mustID(data.MessageID)
	if err := p.store.MarkRead(ctx, call.RoomID, call.UserID, messageID); err != nil {
		return err
	}
	if p.cfg.ReadReceipts {
		p.bus.Deliver(ctx, call.RoomID.String(), eventFrame(events.EventMessagesRead, map[string]interface{}{
			"room_id":    call.RoomID,
			"user_id":    call.UserID,
			"message_id": messageID,
		}), call.Conn.ID())
	}
	p.reply(call.Conn, ackFrame(call.Kind, map[string]interface{}{"message_id": messageID}))
	return nil
}

func (p *Protocol) typingStart(ctx context.Context, call *Call, _ noData) error {
	return p.typing(ctx, call, events.EventTypingStarted)
}

func (p *Protocol) typingStop(ctx context.Context, call *Call, _ noData) error {
	return p.typing(ctx, call, events.EventTypingStopped)
}

// typing is ephemeral: nothing is stored and the caller gets no ack.
func (p *Protocol) typing(ctx context.Context, call *Call, eventType string) error {
	if !p.registry.InRoom(call.Conn.ID(), call.RoomID.String()) {
		return fmt.Errorf("connection is not in room %s: %w", call.RoomID, roomcast_errors.ErrNotFound)
	}
	p.bus.Deliver(ctx, call.RoomID.String(), eventFrame(eventType, map[string]interface{}{
		"room_id": call.RoomID,
		"user_id": call.UserID,
	}), call.Conn.ID())
	return nil
}

func (p *Protocol) fetchHistory(ctx context.Context, call *Call, data historyData) error {
	if err := p.store.EnsureMember(ctx, call.UserID, call.RoomID); err != nil {
		return err
	}
	page, err := p.store.FetchHistory(ctx, call.RoomID, data.before(), data.Limit)
	if err != nil {
		return err
	}
	views := messageViews(page)
	result := map[string]interface{}{
		"room_id":  call.RoomID,
		"messages": views,
	}
	if len(views) > 0 {
		result["next_before_message_id"] = views[0].ID
	}
	p.reply(call.Conn, eventFrame(events.EventHistory, result))
	return nil
}

func (p *Protocol) ping(_ context.Context, call *Call, _ noData) error {
	p.reply(call.Conn, eventFrame(events.EventPong, map[string]interface{}{"server_time": time.Now().UTC()}))
	return nil
}
