package models

// Event names broadcast to room participants.
const (
	EventMessageCreated  = "message_created"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventMessagePinned   = "message_pinned"
	EventMessageUnpinned = "message_unpinned"
	EventSeen            = "seen"
	EventTyping          = "typing"
	EventTypingStopped   = "typing_stopped"
	EventHistoryCleared  = "history_cleared"
)

// MessageCreatedEvent carries the full wire message so clients can render and
// decrypt without a follow-up fetch.
type MessageCreatedEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

// MessageEditedEvent ships the new cipher material, never the plaintext, so
// other devices can decrypt independently.
type MessageEditedEvent struct {
	Type          string `json:"type"`
	MessageID     int    `json:"message_id"`
	Ciphertext    []byte `json:"ciphertext"`
	IV            []byte `json:"iv"`
	Tag           []byte `json:"tag"`
	CipherVersion int    `json:"cipher_version"`
	Edited        bool   `json:"edited"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID int    `json:"message_id"`
}

type MessagePinnedEvent struct {
	Type      string   `json:"type"`
	MessageID int      `json:"message_id"`
	Message   *Message `json:"message"`
}

type MessageUnpinnedEvent struct {
	Type string `json:"type"`
}

type SeenEvent struct {
	Type   string `json:"type"`
	UserID int    `json:"user_id"`
	At     int64  `json:"at"`
}

type TypingEvent struct {
	Type   string `json:"type"`
	UserID int    `json:"user_id"`
}

type HistoryClearedEvent struct {
	Type string `json:"type"`
}
