package events

// Room and user events pushed to clients.
const (
	EventMessageReceived = "message_received"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventReactionChanged = "reaction_changed"
	EventMessagesRead    = "messages_read"
	EventTypingStarted   = "typing_started"
	EventTypingStopped   = "typing_stopped"
)

// Replies sent only to the requesting connection.
const (
	EventHistory = "history"
	EventPong    = "pong"
	EventError   = "error"

	AckSuffix = "_ack"
)
