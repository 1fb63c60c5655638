package models

import "time"

// Role is a member's standing within a room.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Capabilities is the role-based capability set consulted by the lifecycle
// engine before privileged operations.
type Capabilities struct {
	IsOwner     bool `json:"is_owner"`
	IsAdmin     bool `json:"is_admin"`
	IsModerator bool `json:"is_moderator"`
}

// Capabilities maps a role to its capability set.
func (r Role) Capabilities() Capabilities {
	return Capabilities{
		IsOwner:     r == RoleOwner,
		IsAdmin:     r == RoleOwner || r == RoleAdmin,
		IsModerator: r == RoleOwner || r == RoleAdmin || r == RoleModerator,
	}
}

// Privileged reports whether the role may act on other members' messages.
func (r Role) Privileged() bool {
	return r.Capabilities().IsModerator
}

// Membership links a user to a room with a role. Active=false memberships are
// logically absent from the room but preserve history attribution. ClearedAt
// is the per-user clear-history watermark: messages at or below it are hidden
// from this user only.
type Membership struct {
	RoomKind   RoomKind   `db:"room_kind" json:"room_kind"`
	RoomID     int        `db:"room_id" json:"room_id"`
	UserID     int        `db:"user_id" json:"user_id"`
	Role       Role       `db:"role" json:"role"`
	Active     bool       `db:"active" json:"active"`
	LastSeenAt *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
	ClearedAt  *time.Time `db:"cleared_at" json:"-"`
	JoinedAt   time.Time  `db:"joined_at" json:"joined_at"`
}

// Room returns the membership's room reference.
func (m Membership) Room() RoomRef {
	return RoomRef{Kind: m.RoomKind, ID: m.RoomID}
}
