package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"
)

// CipherVersionGCM is the current algorithm generation: AES-256-GCM with an
// HKDF-SHA256 key bound to the message's original creation timestamp.
const CipherVersionGCM = 1

// PreviewLimit bounds the plaintext excerpt retained for search indexing.
const PreviewLimit = 100

const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

var (
	// ErrUnknownCipherVersion is returned when a stored record was written
	// by an algorithm generation this build does not know.
	ErrUnknownCipherVersion = errors.New("unknown cipher version")
	// ErrMalformedRecord is returned when cipher material is internally
	// inconsistent, e.g. ciphertext without iv or tag.
	ErrMalformedRecord = errors.New("malformed cipher record")
)

// Envelope is the at-rest form of a message body plus its search preview.
type Envelope struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
	Version    int
	Preview    string
}

// Codec turns plaintext message bodies into at-rest cipher material and back.
// The key for a message is derived from the service master key and the
// message's creation timestamp, so edits re-encrypted with the original
// timestamp stay decryptable without tracking per-edit keys.
type Codec struct {
	masterKey []byte
}

// New builds a Codec around a 32-byte master key.
func New(masterKey []byte) (*Codec, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Codec{masterKey: key}, nil
}

// Encode encrypts plaintext under the key derived for createdAt (unix
// seconds) and produces the bounded search preview.
func (c *Codec) Encode(plaintext string, createdAt int64) (Envelope, error) {
	aead, err := c.aeadFor(CipherVersionGCM, createdAt)
	if err != nil {
		return Envelope{}, err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - gcmTagSize

	return Envelope{
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
		IV:         iv,
		Version:    CipherVersionGCM,
		Preview:    TruncatePreview(plaintext),
	}, nil
}

// Decode reverses Encode. createdAt must be the message's original creation
// timestamp; the edit time never participates in key derivation.
func (c *Codec) Decode(env Envelope, createdAt int64) (string, error) {
	if len(env.Ciphertext) == 0 {
		return "", nil
	}
	if len(env.IV) != gcmNonceSize || len(env.Tag) != gcmTagSize {
		return "", ErrMalformedRecord
	}

	aead, err := c.aeadFor(env.Version, createdAt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := aead.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

func (c *Codec) aeadFor(version int, createdAt int64) (cipher.AEAD, error) {
	if version != CipherVersionGCM {
		return nil, ErrUnknownCipherVersion
	}

	info := []byte("msg:v" + strconv.Itoa(version) + ":" + strconv.FormatInt(createdAt, 10))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.masterKey, nil, info), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}

// TruncatePreview bounds a plaintext excerpt at PreviewLimit runes.
func TruncatePreview(plaintext string) string {
	runes := []rune(plaintext)
	if len(runes) <= PreviewLimit {
		return plaintext
	}
	return string(runes[:PreviewLimit])
}
