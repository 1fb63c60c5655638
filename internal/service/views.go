package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"messaging-service/internal/codec"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// ContactCard is the structured contact payload a message may carry.
type ContactCard struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// ReplyView is the rendered form of a reply-to reference. A dangling
// reference (target deleted after the reply was sent) renders as nil.
type ReplyView struct {
	ID       int    `json:"id"`
	SenderID int    `json:"sender_id"`
	Preview  string `json:"preview"`
}

// MessageView is the decrypted, render-ready form of a message returned to
// authorized REST callers.
type MessageView struct {
	ID         int             `json:"id"`
	RoomKind   models.RoomKind `json:"room_kind"`
	RoomID     int             `json:"room_id"`
	SenderID   int             `json:"sender_id"`
	SenderName string          `json:"sender_name,omitempty"`
	Text       string          `json:"text,omitempty"`
	MediaURL   string          `json:"media_url,omitempty"`
	Sticker    *string         `json:"sticker,omitempty"`
	Lat        *float64        `json:"lat,omitempty"`
	Lng        *float64        `json:"lng,omitempty"`
	Contact    *ContactCard    `json:"contact,omitempty"`
	ReplyTo    *ReplyView      `json:"reply_to,omitempty"`
	Edited     bool            `json:"edited"`
	Forwarded  bool            `json:"forwarded"`
	CreatedAt  time.Time       `json:"created_at"`
}

// viewOf decodes a stored message into its render-ready form. Undecryptable
// or internally inconsistent records are logged and rendered without text
// rather than failing the whole page.
func (e *Engine) viewOf(msg models.Message) MessageView {
	view := MessageView{
		ID:        msg.ID,
		RoomKind:  msg.RoomKind,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Sticker:   msg.Sticker,
		Lat:       msg.Lat,
		Lng:       msg.Lng,
		Edited:    msg.Edited,
		Forwarded: msg.Forwarded,
		CreatedAt: msg.CreatedAt,
	}

	if msg.HasText() {
		text, err := e.codec.Decode(codec.Envelope{
			Ciphertext: msg.Ciphertext,
			IV:         msg.IV,
			Tag:        msg.Tag,
			Version:    msg.CipherVersion,
		}, msg.CreatedAt.Unix())
		if err != nil {
			log.Error().Err(integrityf("undecryptable record: %v", err)).Int("message_id", msg.ID).Msg("message decode failed")
		} else {
			view.Text = text
		}
	}

	if msg.Contact != nil {
		var card ContactCard
		if err := json.Unmarshal([]byte(*msg.Contact), &card); err != nil {
			log.Error().Err(integrityf("malformed contact payload: %v", err)).Int("message_id", msg.ID).Msg("message contact discarded")
		} else {
			view.Contact = &card
		}
	}

	if msg.MediaRef != nil && e.media != nil {
		view.MediaURL = e.media.Resolve(msg.Ref(), *msg.MediaRef)
	}

	return view
}

// viewsOf renders a message page, resolving reply references and sender
// names in bulk.
func (e *Engine) viewsOf(ctx context.Context, msgs []models.Message) []MessageView {
	views := make([]MessageView, 0, len(msgs))
	replyCache := map[int]*ReplyView{}

	for _, msg := range msgs {
		view := e.viewOf(msg)
		if msg.ReplyToID != nil {
			view.ReplyTo = e.resolveReply(ctx, *msg.ReplyToID, replyCache)
		}
		views = append(views, view)
	}

	e.decorateSenders(ctx, views)
	return views
}

func (e *Engine) resolveReply(ctx context.Context, replyID int, cache map[int]*ReplyView) *ReplyView {
	if cached, ok := cache[replyID]; ok {
		return cached
	}

	target, err := e.messages.GetMessage(ctx, replyID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		cache[replyID] = nil
		return nil
	}
	if err != nil {
		log.Error().Err(err).Int("reply_to_id", replyID).Msg("reply lookup failed")
		cache[replyID] = nil
		return nil
	}

	view := &ReplyView{ID: target.ID, SenderID: target.SenderID, Preview: target.Preview}
	cache[replyID] = view
	return view
}

func (e *Engine) decorateSenders(ctx context.Context, views []MessageView) {
	if e.users == nil || len(views) == 0 {
		return
	}

	seen := map[int]struct{}{}
	ids := make([]int, 0, len(views))
	for _, v := range views {
		if _, ok := seen[v.SenderID]; !ok {
			seen[v.SenderID] = struct{}{}
			ids = append(ids, v.SenderID)
		}
	}

	names, err := e.users.Usernames(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("sender name lookup failed")
		return
	}
	for i := range views {
		views[i].SenderName = names[views[i].SenderID]
	}
}
