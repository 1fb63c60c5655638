package media

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func TestResolveSignsRoomScopedURL(t *testing.T) {
	r := NewSignedResolver("http://media.local", "secret", 15*time.Minute)
	room := models.RoomRef{Kind: models.RoomGroup, ID: 7}

	raw := r.Resolve(room, "photo.jpg")
	require.True(t, strings.HasPrefix(raw, "http://media.local/rooms/group/7/photo.jpg?"))

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	expires := parsed.Query().Get("expires")
	signature := parsed.Query().Get("signature")
	assert.True(t, r.Verify(parsed.Path, expires, signature))
}

func TestVerifyRejectsTamperedPath(t *testing.T) {
	r := NewSignedResolver("http://media.local", "secret", 15*time.Minute)
	room := models.RoomRef{Kind: models.RoomGroup, ID: 7}

	parsed, err := url.Parse(r.Resolve(room, "photo.jpg"))
	require.NoError(t, err)

	q := parsed.Query()
	assert.False(t, r.Verify("/rooms/group/8/photo.jpg", q.Get("expires"), q.Get("signature")))
}

func TestVerifyRejectsExpired(t *testing.T) {
	r := NewSignedResolver("http://media.local", "secret", -time.Minute)
	room := models.RoomRef{Kind: models.RoomDirect, ID: 1}

	parsed, err := url.Parse(r.Resolve(room, "voice.ogg"))
	require.NoError(t, err)

	q := parsed.Query()
	assert.False(t, r.Verify(parsed.Path, q.Get("expires"), q.Get("signature")))
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a := NewSignedResolver("http://media.local", "secret-a", 15*time.Minute)
	b := NewSignedResolver("http://media.local", "secret-b", 15*time.Minute)
	room := models.RoomRef{Kind: models.RoomChannel, ID: 2}

	parsed, err := url.Parse(a.Resolve(room, "doc.pdf"))
	require.NoError(t, err)

	q := parsed.Query()
	assert.False(t, b.Verify(parsed.Path, q.Get("expires"), q.Get("signature")))
}
