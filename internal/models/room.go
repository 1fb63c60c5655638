package models

import (
	"fmt"
	"time"
)

// RoomKind discriminates the conversation scopes sharing the message table.
type RoomKind string

const (
	RoomDirect  RoomKind = "direct"
	RoomGroup   RoomKind = "group"
	RoomChannel RoomKind = "channel"
)

// ParseRoomKind validates a kind string coming from the transport layer.
func ParseRoomKind(s string) (RoomKind, bool) {
	switch RoomKind(s) {
	case RoomDirect, RoomGroup, RoomChannel:
		return RoomKind(s), true
	}
	return "", false
}

// RoomRef identifies a conversation scope: a direct chat, a group, or a
// channel's comment thread. The lifecycle engine is written against RoomRef
// so it never branches on which foreign key happens to be set.
type RoomRef struct {
	Kind RoomKind `db:"room_kind" json:"room_kind"`
	ID   int      `db:"room_id" json:"room_id"`
}

func (r RoomRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Room is the persisted conversation record.
type Room struct {
	ID             int       `db:"id" json:"id"`
	Kind           RoomKind  `db:"kind" json:"kind"`
	Name           string    `db:"name" json:"name"`
	OwnerID        int       `db:"owner_id" json:"owner_id"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Ref returns the RoomRef for this room.
func (r Room) Ref() RoomRef {
	return RoomRef{Kind: r.Kind, ID: r.ID}
}
