package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMembershipNotFound = errors.New("membership not found")

const membershipColumns = `room_kind, room_id, user_id, role, active, last_seen_at, cleared_at, joined_at`

// MembershipRepository abstracts room membership persistence.
type MembershipRepository interface {
	Get(ctx context.Context, room models.RoomRef, userID int) (models.Membership, error)
	ListActive(ctx context.Context, room models.RoomRef) ([]models.Membership, error)
	Upsert(ctx context.Context, m models.Membership) error
	SetRole(ctx context.Context, room models.RoomRef, userID int, role models.Role) error
	SetActive(ctx context.Context, room models.RoomRef, userID int, active bool) error
	RecordSeen(ctx context.Context, room models.RoomRef, userID int, at time.Time) error
	SetClearedAt(ctx context.Context, room models.RoomRef, userID int, at time.Time) error
}

// MembershipRepo is a sqlx implementation of MembershipRepository.
type MembershipRepo struct {
	db *sqlx.DB
}

// NewMembershipRepo constructs a MembershipRepo.
func NewMembershipRepo(db *sqlx.DB) *MembershipRepo {
	return &MembershipRepo{db: db}
}

// Get fetches the membership row for a user in a room.
func (r *MembershipRepo) Get(ctx context.Context, room models.RoomRef, userID int) (models.Membership, error) {
	var m models.Membership
	err := r.db.GetContext(ctx, &m, `SELECT `+membershipColumns+` FROM memberships
        WHERE room_kind=$1 AND room_id=$2 AND user_id=$3`, room.Kind, room.ID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Membership{}, ErrMembershipNotFound
	}
	return m, err
}

// ListActive returns the active memberships of a room.
func (r *MembershipRepo) ListActive(ctx context.Context, room models.RoomRef) ([]models.Membership, error) {
	var members []models.Membership
	err := r.db.SelectContext(ctx, &members, `SELECT `+membershipColumns+` FROM memberships
        WHERE room_kind=$1 AND room_id=$2 AND active = TRUE ORDER BY joined_at ASC`, room.Kind, room.ID)
	return members, err
}

// Upsert creates a membership or reactivates an existing one, keeping the
// original role and watermark on rejoin.
func (r *MembershipRepo) Upsert(ctx context.Context, m models.Membership) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO memberships (room_kind, room_id, user_id, role, active)
        VALUES ($1, $2, $3, $4, TRUE)
        ON CONFLICT (room_kind, room_id, user_id) DO UPDATE SET active = TRUE`,
		m.RoomKind, m.RoomID, m.UserID, m.Role)
	return err
}

// SetRole changes the member's role.
func (r *MembershipRepo) SetRole(ctx context.Context, room models.RoomRef, userID int, role models.Role) error {
	res, err := r.db.ExecContext(ctx, `UPDATE memberships SET role=$1
        WHERE room_kind=$2 AND room_id=$3 AND user_id=$4`, role, room.Kind, room.ID, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetActive toggles the soft membership flag (leave/kick/rejoin).
func (r *MembershipRepo) SetActive(ctx context.Context, room models.RoomRef, userID int, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE memberships SET active=$1
        WHERE room_kind=$2 AND room_id=$3 AND user_id=$4`, active, room.Kind, room.ID, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RecordSeen advances the member's last-seen timestamp.
func (r *MembershipRepo) RecordSeen(ctx context.Context, room models.RoomRef, userID int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE memberships SET last_seen_at=$1
        WHERE room_kind=$2 AND room_id=$3 AND user_id=$4`, at, room.Kind, room.ID, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetClearedAt moves the member's personal clear-history watermark.
func (r *MembershipRepo) SetClearedAt(ctx context.Context, room models.RoomRef, userID int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE memberships SET cleared_at=$1
        WHERE room_kind=$2 AND room_id=$3 AND user_id=$4`, at, room.Kind, room.ID, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMembershipNotFound
	}
	return nil
}
