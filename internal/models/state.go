package models

import "time"

// RoomState is the singleton per-room record for state not tied to any one
// message. Sub-collections (bans, mutes) live in their own tables so each
// field updates atomically instead of racing on one opaque blob.
type RoomState struct {
	RoomKind        RoomKind  `db:"room_kind" json:"room_kind"`
	RoomID          int       `db:"room_id" json:"room_id"`
	PinnedMessageID *int      `db:"pinned_message_id" json:"pinned_message_id,omitempty"`
	SlowModeSeconds int       `db:"slow_mode_seconds" json:"slow_mode_seconds"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
