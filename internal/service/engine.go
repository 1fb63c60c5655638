package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"messaging-service/internal/codec"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// PublishOptions selects the delivery variant for a broadcast.
type PublishOptions struct {
	// ExcludeUser skips every session belonging to this user.
	ExcludeUser int
	// EchoToUser additionally delivers to this user's sessions even when
	// they are not joined to the room, keeping multi-device clients in sync.
	EchoToUser int
}

// Fanout delivers an event payload to every live participant of a room.
// Delivery is best-effort; failures never surface to the triggering caller.
type Fanout interface {
	Publish(room models.RoomRef, event string, payload interface{}, opts PublishOptions)
}

// TypingTracker records the short-lived typing state of room members.
type TypingTracker interface {
	SetTyping(ctx context.Context, room models.RoomRef, userID int) error
	ClearTyping(ctx context.Context, room models.RoomRef, userID int) error
	IsTyping(ctx context.Context, room models.RoomRef, userID int) (bool, error)
}

// UserDirectory resolves user ids to display names.
type UserDirectory interface {
	Usernames(ctx context.Context, ids []int) (map[int]string, error)
}

// MediaResolver turns a room-scoped media reference into a fetchable URL.
type MediaResolver interface {
	Resolve(room models.RoomRef, ref string) string
}

// SendRequest is the validated payload of a send operation. At least one of
// Text, Sticker, the Lat/Lng pair or Contact must be present.
type SendRequest struct {
	Text      string
	Sticker   *string
	Lat       *float64
	Lng       *float64
	Contact   *ContactCard
	MediaRef  *string
	ReplyToID *int
	Forwarded bool
}

// Engine orchestrates the message lifecycle: every operation follows the
// same shape, authorize, transform, persist, broadcast. Broadcast failures
// never roll back the persisted mutation.
type Engine struct {
	authority   *Authority
	rooms       repositories.RoomRepository
	memberships repositories.MembershipRepository
	messages    repositories.MessageRepository
	state       repositories.RoomStateRepository
	codec       *codec.Codec
	fanout      Fanout
	typing      TypingTracker
	users       UserDirectory
	media       MediaResolver
}

// NewEngine wires the lifecycle engine. users and media may be nil; views
// are then rendered without sender names or media URLs.
func NewEngine(
	authority *Authority,
	rooms repositories.RoomRepository,
	memberships repositories.MembershipRepository,
	messages repositories.MessageRepository,
	state repositories.RoomStateRepository,
	cdc *codec.Codec,
	fanout Fanout,
	typing TypingTracker,
	users UserDirectory,
	media MediaResolver,
) *Engine {
	return &Engine{
		authority:   authority,
		rooms:       rooms,
		memberships: memberships,
		messages:    messages,
		state:       state,
		codec:       cdc,
		fanout:      fanout,
		typing:      typing,
		users:       users,
		media:       media,
	}
}

// Send validates, encrypts and persists a new message, then notifies the
// room. The sender's other devices receive the echo variant.
func (e *Engine) Send(ctx context.Context, room models.RoomRef, callerID int, req SendRequest) (MessageView, error) {
	member, err := e.authority.RequireActive(ctx, room, callerID)
	if err != nil {
		return MessageView{}, err
	}

	muted, err := e.state.IsMuted(ctx, room, callerID)
	if err != nil {
		return MessageView{}, fmt.Errorf("check mute: %w", err)
	}
	if muted {
		return MessageView{}, forbiddenf("user %d is muted in %s", callerID, room)
	}

	hasGeo := req.Lat != nil && req.Lng != nil
	if (req.Lat != nil) != (req.Lng != nil) {
		return MessageView{}, validationf("geocoordinates require both lat and lng")
	}
	if req.Text == "" && req.Sticker == nil && !hasGeo && req.Contact == nil {
		return MessageView{}, validationf("message has no content")
	}

	if req.ReplyToID != nil {
		target, err := e.messages.GetMessage(ctx, *req.ReplyToID)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return MessageView{}, validationf("reply target %d does not exist", *req.ReplyToID)
		}
		if err != nil {
			return MessageView{}, fmt.Errorf("load reply target: %w", err)
		}
		if target.Ref() != room {
			return MessageView{}, validationf("reply target %d belongs to another room", *req.ReplyToID)
		}
	}

	// Slow mode throttles plain members only.
	if !member.Role.Privileged() {
		state, err := e.state.Get(ctx, room)
		if err != nil {
			return MessageView{}, fmt.Errorf("load room state: %w", err)
		}
		if state.SlowModeSeconds > 0 {
			last, err := e.messages.LastSenderMessageAt(ctx, room, callerID)
			if err != nil {
				return MessageView{}, fmt.Errorf("check slow mode: %w", err)
			}
			interval := time.Duration(state.SlowModeSeconds) * time.Second
			if last != nil && time.Since(*last) < interval {
				return MessageView{}, forbiddenf("slow mode: one message per %s", interval)
			}
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	msg := models.Message{
		RoomKind:  room.Kind,
		RoomID:    room.ID,
		SenderID:  callerID,
		Sticker:   req.Sticker,
		Lat:       req.Lat,
		Lng:       req.Lng,
		MediaRef:  req.MediaRef,
		ReplyToID: req.ReplyToID,
		Forwarded: req.Forwarded,
		CreatedAt: now,
	}

	if req.Text != "" {
		env, err := e.codec.Encode(req.Text, now.Unix())
		if err != nil {
			return MessageView{}, fmt.Errorf("encode message: %w", err)
		}
		msg.Ciphertext = env.Ciphertext
		msg.IV = env.IV
		msg.Tag = env.Tag
		msg.CipherVersion = env.Version
		msg.Preview = env.Preview
	}

	if req.Contact != nil {
		raw, err := json.Marshal(req.Contact)
		if err != nil {
			return MessageView{}, fmt.Errorf("marshal contact: %w", err)
		}
		contact := string(raw)
		msg.Contact = &contact
	}

	stored, err := e.messages.Append(ctx, msg)
	if err != nil {
		return MessageView{}, fmt.Errorf("store message: %w", err)
	}

	if err := e.rooms.TouchActivity(ctx, room); err != nil {
		log.Warn().Err(err).Str("room", room.String()).Msg("touch room activity failed")
	}

	e.fanout.Publish(room, models.EventMessageCreated, models.MessageCreatedEvent{
		Type:    models.EventMessageCreated,
		Message: &stored,
	}, PublishOptions{EchoToUser: callerID})
	observability.IncMessageOp("send")

	view := e.viewOf(stored)
	view.Text = req.Text
	return view, nil
}

// Edit re-encrypts a message in place. Only the original author may edit,
// and key derivation stays bound to the original creation timestamp so other
// devices never need the edit time to decrypt.
func (e *Engine) Edit(ctx context.Context, room models.RoomRef, callerID, messageID int, newText string) (MessageView, error) {
	if _, err := e.authority.RequireActive(ctx, room, callerID); err != nil {
		return MessageView{}, err
	}
	if newText == "" {
		return MessageView{}, validationf("edited message has no content")
	}

	msg, err := e.getRoomMessage(ctx, room, messageID)
	if err != nil {
		return MessageView{}, err
	}
	if msg.SenderID != callerID {
		return MessageView{}, forbiddenf("only the author may edit message %d", messageID)
	}

	env, err := e.codec.Encode(newText, msg.CreatedAt.Unix())
	if err != nil {
		return MessageView{}, fmt.Errorf("encode message: %w", err)
	}

	updated, err := e.messages.Mutate(ctx, messageID, repositories.MessagePatch{
		Ciphertext:    env.Ciphertext,
		IV:            env.IV,
		Tag:           env.Tag,
		CipherVersion: env.Version,
		Preview:       env.Preview,
		Edited:        true,
	})
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return MessageView{}, notFoundf("message %d", messageID)
	}
	if err != nil {
		return MessageView{}, fmt.Errorf("update message: %w", err)
	}

	e.fanout.Publish(room, models.EventMessageEdited, models.MessageEditedEvent{
		Type:          models.EventMessageEdited,
		MessageID:     updated.ID,
		Ciphertext:    updated.Ciphertext,
		IV:            updated.IV,
		Tag:           updated.Tag,
		CipherVersion: updated.CipherVersion,
		Edited:        updated.Edited,
	}, PublishOptions{})
	observability.IncMessageOp("edit")

	view := e.viewOf(updated)
	view.Text = newText
	return view, nil
}

// Delete removes a message. The sender may delete their own; moderators and
// up may delete anyone's. A pinned message loses its pin atomically with the
// delete.
func (e *Engine) Delete(ctx context.Context, room models.RoomRef, callerID, messageID int) error {
	member, err := e.authority.RequireActive(ctx, room, callerID)
	if err != nil {
		return err
	}

	msg, err := e.getRoomMessage(ctx, room, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != callerID && !member.Role.Privileged() {
		return forbiddenf("user %d may not delete message %d", callerID, messageID)
	}

	if _, err := e.messages.Remove(ctx, messageID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return notFoundf("message %d", messageID)
		}
		return fmt.Errorf("remove message: %w", err)
	}

	e.fanout.Publish(room, models.EventMessageDeleted, models.MessageDeletedEvent{
		Type:      models.EventMessageDeleted,
		MessageID: messageID,
	}, PublishOptions{})
	observability.IncMessageOp("delete")
	return nil
}

// Pin sets the room's single pinned-message slot. Privileged-only. The full
// message rides along in the broadcast so clients render it without a
// follow-up fetch.
func (e *Engine) Pin(ctx context.Context, room models.RoomRef, callerID, messageID int) (MessageView, error) {
	if _, err := e.authority.RequirePrivileged(ctx, room, callerID); err != nil {
		return MessageView{}, err
	}

	if err := e.state.SetPinned(ctx, room, messageID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return MessageView{}, notFoundf("message %d in %s", messageID, room)
		}
		return MessageView{}, fmt.Errorf("set pin: %w", err)
	}

	msg, err := e.messages.GetMessage(ctx, messageID)
	if err != nil {
		return MessageView{}, fmt.Errorf("load pinned message: %w", err)
	}

	e.fanout.Publish(room, models.EventMessagePinned, models.MessagePinnedEvent{
		Type:      models.EventMessagePinned,
		MessageID: messageID,
		Message:   &msg,
	}, PublishOptions{})
	observability.IncMessageOp("pin")
	return e.viewOf(msg), nil
}

// Unpin clears the pin slot. Privileged-only.
func (e *Engine) Unpin(ctx context.Context, room models.RoomRef, callerID int) error {
	if _, err := e.authority.RequirePrivileged(ctx, room, callerID); err != nil {
		return err
	}
	if err := e.state.ClearPinned(ctx, room); err != nil {
		return fmt.Errorf("clear pin: %w", err)
	}
	e.fanout.Publish(room, models.EventMessageUnpinned, models.MessageUnpinnedEvent{
		Type: models.EventMessageUnpinned,
	}, PublishOptions{})
	observability.IncMessageOp("unpin")
	return nil
}

// GetPinned returns the room's pinned message, or nil when no pin is set or
// the pin target has gone away.
func (e *Engine) GetPinned(ctx context.Context, room models.RoomRef, callerID int) (*MessageView, error) {
	if _, err := e.authority.RequireActive(ctx, room, callerID); err != nil {
		return nil, err
	}

	pinnedID, err := e.state.GetPinnedID(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load pin: %w", err)
	}
	if pinnedID == nil {
		return nil, nil
	}

	msg, err := e.messages.GetMessage(ctx, *pinnedID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pinned message: %w", err)
	}

	view := e.viewOf(msg)
	return &view, nil
}

// MarkSeen advances the caller's read watermark and tells peers. The receipt
// is advisory; a failed persist is logged, never surfaced.
func (e *Engine) MarkSeen(ctx context.Context, room models.RoomRef, callerID int, at time.Time) error {
	if _, err := e.authority.RequireActive(ctx, room, callerID); err != nil {
		return err
	}

	if err := e.memberships.RecordSeen(ctx, room, callerID, at); err != nil {
		log.Warn().Err(err).Str("room", room.String()).Int("user_id", callerID).Msg("record seen failed")
	}

	e.fanout.Publish(room, models.EventSeen, models.SeenEvent{
		Type:   models.EventSeen,
		UserID: callerID,
		At:     at.Unix(),
	}, PublishOptions{ExcludeUser: callerID})
	return nil
}

// Typing broadcasts the caller's typing state. Mirroring the permissive
// upstream behavior, no membership check gates this low-stakes signal; the
// transport layer rate-limits it instead.
func (e *Engine) Typing(ctx context.Context, room models.RoomRef, callerID int, isTyping bool) {
	event := models.EventTyping
	if isTyping {
		if err := e.typing.SetTyping(ctx, room, callerID); err != nil {
			log.Debug().Err(err).Msg("typing tracker set failed")
		}
	} else {
		event = models.EventTypingStopped
		if err := e.typing.ClearTyping(ctx, room, callerID); err != nil {
			log.Debug().Err(err).Msg("typing tracker clear failed")
		}
	}

	e.fanout.Publish(room, event, models.TypingEvent{
		Type:   event,
		UserID: callerID,
	}, PublishOptions{ExcludeUser: callerID})
}

// ListTyping returns the ids of room members currently typing, excluding the
// caller.
func (e *Engine) ListTyping(ctx context.Context, room models.RoomRef, callerID int) ([]int, error) {
	if _, err := e.authority.RequireActive(ctx, room, callerID); err != nil {
		return nil, err
	}

	members, err := e.memberships.ListActive(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	typing := make([]int, 0)
	for _, m := range members {
		if m.UserID == callerID {
			continue
		}
		ok, err := e.typing.IsTyping(ctx, room, m.UserID)
		if err != nil {
			log.Debug().Err(err).Msg("typing tracker read failed")
			continue
		}
		if ok {
			typing = append(typing, m.UserID)
		}
	}
	return typing, nil
}

// ClearHistoryForMe moves the caller's personal watermark to now. Only the
// caller's view changes, so nothing is broadcast.
func (e *Engine) ClearHistoryForMe(ctx context.Context, room models.RoomRef, callerID int) error {
	if _, err := e.authority.RequireActive(ctx, room, callerID); err != nil {
		return err
	}
	if err := e.memberships.SetClearedAt(ctx, room, callerID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	observability.IncMessageOp("clear_self")
	return nil
}

// ClearHistoryForAll structurally deletes every message in the room, clears
// the pin and tells connected clients to purge their local view.
func (e *Engine) ClearHistoryForAll(ctx context.Context, room models.RoomRef, callerID int) error {
	if _, err := e.authority.RequirePrivileged(ctx, room, callerID); err != nil {
		return err
	}

	removed, err := e.messages.RemoveAllInRoom(ctx, room)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	log.Info().Str("room", room.String()).Int64("removed", removed).Msg("room history cleared")

	e.fanout.Publish(room, models.EventHistoryCleared, models.HistoryClearedEvent{
		Type: models.EventHistoryCleared,
	}, PublishOptions{})
	observability.IncMessageOp("clear_all")
	return nil
}

// History returns a message page for the caller, honoring their personal
// clear-history watermark.
func (e *Engine) History(ctx context.Context, room models.RoomRef, callerID int, page repositories.PageQuery) ([]MessageView, error) {
	member, err := e.authority.RequireActive(ctx, room, callerID)
	if err != nil {
		return nil, err
	}

	msgs, err := e.messages.Page(ctx, room, page, member.ClearedAt)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return e.viewsOf(ctx, msgs), nil
}

// Search substring-matches the plaintext previews of the caller's visible
// messages. Ciphertext is never searched.
func (e *Engine) Search(ctx context.Context, room models.RoomRef, callerID int, query string, limit, offset int) ([]MessageView, error) {
	member, err := e.authority.RequireActive(ctx, room, callerID)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, validationf("empty search query")
	}

	msgs, err := e.messages.SearchPreview(ctx, room, query, limit, offset, member.ClearedAt)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return e.viewsOf(ctx, msgs), nil
}

// UnreadCount counts the messages the caller has not seen yet, respecting
// their clear-history watermark.
func (e *Engine) UnreadCount(ctx context.Context, room models.RoomRef, callerID int) (int, error) {
	member, err := e.authority.RequireActive(ctx, room, callerID)
	if err != nil {
		return 0, err
	}

	since := member.LastSeenAt
	if member.ClearedAt != nil && (since == nil || member.ClearedAt.After(*since)) {
		since = member.ClearedAt
	}

	count, err := e.messages.CountInRoom(ctx, room, since)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// getRoomMessage loads a message and verifies it belongs to the room.
func (e *Engine) getRoomMessage(ctx context.Context, room models.RoomRef, messageID int) (models.Message, error) {
	msg, err := e.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, notFoundf("message %d", messageID)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("load message: %w", err)
	}
	if msg.Ref() != room {
		return models.Message{}, notFoundf("message %d in %s", messageID, room)
	}
	return msg, nil
}
