package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, room_kind, room_id, sender_id, ciphertext, iv, tag, cipher_version, preview, media_ref, sticker, lat, lng, contact, reply_to_id, edited, forwarded, created_at`

// MessagePatch is the in-place edit applied by Mutate. Id, sender and
// creation time are immutable.
type MessagePatch struct {
	Ciphertext    []byte
	IV            []byte
	Tag           []byte
	CipherVersion int
	Preview       string
	Edited        bool
}

// PageQuery selects a message page anchored to a fixed id boundary, so pages
// stay stable under concurrent inserts.
type PageQuery struct {
	BeforeID int
	AfterID  int
	ExactID  int
	Limit    int
}

// MessageRepository abstracts message persistence for a room.
type MessageRepository interface {
	Append(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	Page(ctx context.Context, room models.RoomRef, q PageQuery, floor *time.Time) ([]models.Message, error)
	Mutate(ctx context.Context, messageID int, patch MessagePatch) (models.Message, error)
	Remove(ctx context.Context, messageID int) (models.Message, error)
	RemoveAllInRoom(ctx context.Context, room models.RoomRef) (int64, error)
	CountInRoom(ctx context.Context, room models.RoomRef, since *time.Time) (int, error)
	LastSenderMessageAt(ctx context.Context, room models.RoomRef, senderID int) (*time.Time, error)
	SearchPreview(ctx context.Context, room models.RoomRef, query string, limit, offset int, floor *time.Time) ([]models.Message, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append persists a message. The caller assigns the creation timestamp since
// it also seeds the cipher key derivation; the id comes from the sequence.
func (r *MessageRepo) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	var out models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages
        (room_kind, room_id, sender_id, ciphertext, iv, tag, cipher_version, preview, media_ref, sticker, lat, lng, contact, reply_to_id, edited, forwarded, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, FALSE, $15, $16)
        RETURNING `+messageColumns,
		msg.RoomKind, msg.RoomID, msg.SenderID, msg.Ciphertext, msg.IV, msg.Tag,
		msg.CipherVersion, msg.Preview, msg.MediaRef, msg.Sticker, msg.Lat, msg.Lng,
		msg.Contact, msg.ReplyToID, msg.Forwarded, msg.CreatedAt,
	).StructScan(&out)
	return out, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Page returns a message page ordered by id ascending. With BeforeID set it
// walks backward from that id; with AfterID forward; with neither it returns
// the most recent Limit messages, oldest first within the page. Messages at
// or below the caller's clear-history floor are excluded.
func (r *MessageRepo) Page(ctx context.Context, room models.RoomRef, q PageQuery, floor *time.Time) ([]models.Message, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	where := []string{"room_kind=$1", "room_id=$2"}
	args := []interface{}{room.Kind, room.ID}

	if floor != nil {
		args = append(args, *floor)
		where = append(where, "created_at > $"+strconv.Itoa(len(args)))
	}

	descending := false
	switch {
	case q.ExactID > 0:
		args = append(args, q.ExactID)
		where = append(where, "id = $"+strconv.Itoa(len(args)))
	case q.BeforeID > 0:
		args = append(args, q.BeforeID)
		where = append(where, "id < $"+strconv.Itoa(len(args)))
		descending = true
	case q.AfterID > 0:
		args = append(args, q.AfterID)
		where = append(where, "id > $"+strconv.Itoa(len(args)))
	default:
		descending = true
	}

	order := "ASC"
	if descending {
		order = "DESC"
	}
	args = append(args, limit)
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY id ` + order + ` LIMIT $` + strconv.Itoa(len(args))

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, err
	}

	if descending {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

// Mutate applies an in-place edit and returns the updated row.
func (r *MessageRepo) Mutate(ctx context.Context, messageID int, patch MessagePatch) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET ciphertext=$1, iv=$2, tag=$3, cipher_version=$4, preview=$5, edited=$6
        WHERE id=$7
        RETURNING `+messageColumns,
		patch.Ciphertext, patch.IV, patch.Tag, patch.CipherVersion, patch.Preview, patch.Edited, messageID,
	).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Remove structurally deletes a message and returns the prior row. If the
// message held the room's pin slot the pin is cleared in the same
// transaction, so no window exists where the pin dangles.
func (r *MessageRepo) Remove(ctx context.Context, messageID int) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1 FOR UPDATE`, messageID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrMessageNotFound
		return models.Message{}, err
	}
	if err != nil {
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE room_state SET pinned_message_id=NULL, updated_at=NOW()
        WHERE room_kind=$1 AND room_id=$2 AND pinned_message_id=$3`, msg.RoomKind, msg.RoomID, msg.ID); err != nil {
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// RemoveAllInRoom deletes every message in the room and clears the pin slot
// in one transaction. Returns the number of removed rows.
func (r *MessageRepo) RemoveAllInRoom(ctx context.Context, room models.RoomRef) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_kind=$1 AND room_id=$2`, room.Kind, room.ID)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE room_state SET pinned_message_id=NULL, updated_at=NOW()
        WHERE room_kind=$1 AND room_id=$2`, room.Kind, room.ID); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

// CountInRoom counts messages in the room, optionally only those newer than
// since (drives unread counts).
func (r *MessageRepo) CountInRoom(ctx context.Context, room models.RoomRef, since *time.Time) (int, error) {
	var count int
	if since != nil {
		err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE room_kind=$1 AND room_id=$2 AND created_at > $3`, room.Kind, room.ID, *since)
		return count, err
	}
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE room_kind=$1 AND room_id=$2`, room.Kind, room.ID)
	return count, err
}

// LastSenderMessageAt returns when the sender last posted in the room, nil
// when they never have (drives slow mode).
func (r *MessageRepo) LastSenderMessageAt(ctx context.Context, room models.RoomRef, senderID int) (*time.Time, error) {
	var last sql.NullTime
	err := r.db.GetContext(ctx, &last, `SELECT MAX(created_at) FROM messages
        WHERE room_kind=$1 AND room_id=$2 AND sender_id=$3`, room.Kind, room.ID, senderID)
	if err != nil || !last.Valid {
		return nil, err
	}
	return &last.Time, nil
}

// SearchPreview substring-matches the plaintext preview column only, never
// the ciphertext. Results come newest first.
func (r *MessageRepo) SearchPreview(ctx context.Context, room models.RoomRef, query string, limit, offset int, floor *time.Time) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + escapeLike(query) + "%"
	where := `room_kind=$1 AND room_id=$2 AND preview ILIKE $3 ESCAPE '\'`
	args := []interface{}{room.Kind, room.ID, pattern}

	if floor != nil {
		args = append(args, *floor)
		where += " AND created_at > $" + strconv.Itoa(len(args))
	}

	args = append(args, limit)
	limitPos := strconv.Itoa(len(args))
	args = append(args, offset)
	offsetPos := strconv.Itoa(len(args))

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages WHERE `+where+` ORDER BY id DESC LIMIT $`+limitPos+` OFFSET $`+offsetPos,
		args...)
	return msgs, err
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
