package models

import "time"

// Message is the atomic unit of conversation. Text bodies are stored
// encrypted; the bounded plaintext preview is kept for search only.
// Ciphertext, IV and Tag are either all present (text exists) or all
// absent (media/sticker-only message).
type Message struct {
	ID            int       `db:"id" json:"id"`
	RoomKind      RoomKind  `db:"room_kind" json:"room_kind"`
	RoomID        int       `db:"room_id" json:"room_id"`
	SenderID      int       `db:"sender_id" json:"sender_id"`
	Ciphertext    []byte    `db:"ciphertext" json:"ciphertext,omitempty"`
	IV            []byte    `db:"iv" json:"iv,omitempty"`
	Tag           []byte    `db:"tag" json:"tag,omitempty"`
	CipherVersion int       `db:"cipher_version" json:"cipher_version"`
	Preview       string    `db:"preview" json:"-"`
	MediaRef      *string   `db:"media_ref" json:"media_ref,omitempty"`
	Sticker       *string   `db:"sticker" json:"sticker,omitempty"`
	Lat           *float64  `db:"lat" json:"lat,omitempty"`
	Lng           *float64  `db:"lng" json:"lng,omitempty"`
	Contact       *string   `db:"contact" json:"contact,omitempty"`
	ReplyToID     *int      `db:"reply_to_id" json:"reply_to_id,omitempty"`
	Edited        bool      `db:"edited" json:"edited"`
	Forwarded     bool      `db:"forwarded" json:"forwarded"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Ref returns the room the message belongs to.
func (m Message) Ref() RoomRef {
	return RoomRef{Kind: m.RoomKind, ID: m.RoomID}
}

// HasText reports whether the message carries an encrypted text body.
func (m Message) HasText() bool {
	return len(m.Ciphertext) > 0
}
