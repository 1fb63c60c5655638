package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// RoomStateRepository manages the single pinned-message slot and the named
// per-room sub-collections (bans, mutes). Every update is a single-row or
// single-statement write, so concurrent admins cannot lose each other's
// changes through a read-modify-write cycle.
type RoomStateRepository interface {
	Get(ctx context.Context, room models.RoomRef) (models.RoomState, error)
	GetPinnedID(ctx context.Context, room models.RoomRef) (*int, error)
	SetPinned(ctx context.Context, room models.RoomRef, messageID int) error
	ClearPinned(ctx context.Context, room models.RoomRef) error
	SetSlowMode(ctx context.Context, room models.RoomRef, seconds int) error
	Ban(ctx context.Context, room models.RoomRef, userID int) error
	Unban(ctx context.Context, room models.RoomRef, userID int) error
	IsBanned(ctx context.Context, room models.RoomRef, userID int) (bool, error)
	Mute(ctx context.Context, room models.RoomRef, userID int) error
	Unmute(ctx context.Context, room models.RoomRef, userID int) error
	IsMuted(ctx context.Context, room models.RoomRef, userID int) (bool, error)
}

// RoomStateRepo is a sqlx implementation of RoomStateRepository.
type RoomStateRepo struct {
	db *sqlx.DB
}

// NewRoomStateRepo constructs a RoomStateRepo.
func NewRoomStateRepo(db *sqlx.DB) *RoomStateRepo {
	return &RoomStateRepo{db: db}
}

// Get returns the room's state row, or a zero-value state when none exists yet.
func (r *RoomStateRepo) Get(ctx context.Context, room models.RoomRef) (models.RoomState, error) {
	var state models.RoomState
	err := r.db.GetContext(ctx, &state, `SELECT room_kind, room_id, pinned_message_id, slow_mode_seconds, updated_at
        FROM room_state WHERE room_kind=$1 AND room_id=$2`, room.Kind, room.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RoomState{RoomKind: room.Kind, RoomID: room.ID}, nil
	}
	return state, err
}

// GetPinnedID returns the pinned message id, nil when no pin is set.
func (r *RoomStateRepo) GetPinnedID(ctx context.Context, room models.RoomRef) (*int, error) {
	state, err := r.Get(ctx, room)
	if err != nil {
		return nil, err
	}
	return state.PinnedMessageID, nil
}

// SetPinned pins a message, overwriting any existing pin. The insert-select
// validates in the same statement that the message belongs to the room; a
// message from elsewhere affects no rows and surfaces ErrMessageNotFound.
func (r *RoomStateRepo) SetPinned(ctx context.Context, room models.RoomRef, messageID int) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO room_state (room_kind, room_id, pinned_message_id, updated_at)
        SELECT $1, $2, m.id, NOW() FROM messages m WHERE m.id=$3 AND m.room_kind=$1 AND m.room_id=$2
        ON CONFLICT (room_kind, room_id) DO UPDATE SET pinned_message_id = EXCLUDED.pinned_message_id, updated_at = NOW()`,
		room.Kind, room.ID, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ClearPinned empties the pin slot.
func (r *RoomStateRepo) ClearPinned(ctx context.Context, room models.RoomRef) error {
	_, err := r.db.ExecContext(ctx, `UPDATE room_state SET pinned_message_id=NULL, updated_at=NOW()
        WHERE room_kind=$1 AND room_id=$2`, room.Kind, room.ID)
	return err
}

// SetSlowMode updates the room's slow-mode interval.
func (r *RoomStateRepo) SetSlowMode(ctx context.Context, room models.RoomRef, seconds int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_state (room_kind, room_id, slow_mode_seconds, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (room_kind, room_id) DO UPDATE SET slow_mode_seconds = EXCLUDED.slow_mode_seconds, updated_at = NOW()`,
		room.Kind, room.ID, seconds)
	return err
}

// Ban adds a user to the room's ban set.
func (r *RoomStateRepo) Ban(ctx context.Context, room models.RoomRef, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_bans (room_kind, room_id, user_id) VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING`, room.Kind, room.ID, userID)
	return err
}

// Unban removes a user from the ban set.
func (r *RoomStateRepo) Unban(ctx context.Context, room models.RoomRef, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM room_bans WHERE room_kind=$1 AND room_id=$2 AND user_id=$3`,
		room.Kind, room.ID, userID)
	return err
}

// IsBanned checks ban-set membership.
func (r *RoomStateRepo) IsBanned(ctx context.Context, room models.RoomRef, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_bans WHERE room_kind=$1 AND room_id=$2 AND user_id=$3)`,
		room.Kind, room.ID, userID)
	return exists, err
}

// Mute adds a user to the room's mute set.
func (r *RoomStateRepo) Mute(ctx context.Context, room models.RoomRef, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_mutes (room_kind, room_id, user_id) VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING`, room.Kind, room.ID, userID)
	return err
}

// Unmute removes a user from the mute set.
func (r *RoomStateRepo) Unmute(ctx context.Context, room models.RoomRef, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM room_mutes WHERE room_kind=$1 AND room_id=$2 AND user_id=$3`,
		room.Kind, room.ID, userID)
	return err
}

// IsMuted checks mute-set membership.
func (r *RoomStateRepo) IsMuted(ctx context.Context, room models.RoomRef, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_mutes WHERE room_kind=$1 AND room_id=$2 AND user_id=$3)`,
		room.Kind, room.ID, userID)
	return exists, err
}
