package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room persistence. Administrative room CRUD lives
// with the collaborating services; this covers what the message lifecycle
// needs: existence, ownership and the last-activity touch.
type RoomRepository interface {
	Get(ctx context.Context, ref models.RoomRef) (models.Room, error)
	Create(ctx context.Context, kind models.RoomKind, name string, ownerID int) (models.Room, error)
	TouchActivity(ctx context.Context, ref models.RoomRef) error
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// Get fetches a room by reference.
func (r *RoomRepo) Get(ctx context.Context, ref models.RoomRef) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, kind, name, owner_id, last_activity_at, created_at
        FROM rooms WHERE id=$1 AND kind=$2`, ref.ID, ref.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// Create inserts a room with its owner membership and state row atomically.
func (r *RoomRepo) Create(ctx context.Context, kind models.RoomKind, name string, ownerID int) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var room models.Room
	if err = tx.QueryRowxContext(ctx, `INSERT INTO rooms (kind, name, owner_id) VALUES ($1, $2, $3)
        RETURNING id, kind, name, owner_id, last_activity_at, created_at`, kind, name, ownerID).StructScan(&room); err != nil {
		return models.Room{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO memberships (room_kind, room_id, user_id, role, active)
        VALUES ($1, $2, $3, $4, TRUE)`, room.Kind, room.ID, ownerID, models.RoleOwner); err != nil {
		return models.Room{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO room_state (room_kind, room_id) VALUES ($1, $2)`,
		room.Kind, room.ID); err != nil {
		return models.Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// TouchActivity bumps the room's last-activity timestamp.
func (r *RoomRepo) TouchActivity(ctx context.Context, ref models.RoomRef) error {
	_, err := r.db.ExecContext(ctx, `UPDATE rooms SET last_activity_at=NOW() WHERE id=$1 AND kind=$2`, ref.ID, ref.Kind)
	return err
}
