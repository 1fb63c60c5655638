package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/service"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) Get(ctx context.Context, ref models.RoomRef) (models.Room, error) {
	args := m.Called(ctx, ref)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) Create(ctx context.Context, kind models.RoomKind, name string, ownerID int) (models.Room, error) {
	args := m.Called(ctx, kind, name, ownerID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) TouchActivity(ctx context.Context, ref models.RoomRef) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

type MembershipRepositoryMock struct {
	mock.Mock
}

func (m *MembershipRepositoryMock) Get(ctx context.Context, room models.RoomRef, userID int) (models.Membership, error) {
	args := m.Called(ctx, room, userID)
	var membership models.Membership
	if val := args.Get(0); val != nil {
		membership = val.(models.Membership)
	}
	return membership, args.Error(1)
}

func (m *MembershipRepositoryMock) ListActive(ctx context.Context, room models.RoomRef) ([]models.Membership, error) {
	args := m.Called(ctx, room)
	var members []models.Membership
	if val := args.Get(0); val != nil {
		members = val.([]models.Membership)
	}
	return members, args.Error(1)
}

func (m *MembershipRepositoryMock) Upsert(ctx context.Context, membership models.Membership) error {
	args := m.Called(ctx, membership)
	return args.Error(0)
}

func (m *MembershipRepositoryMock) SetRole(ctx context.Context, room models.RoomRef, userID int, role models.Role) error {
	args := m.Called(ctx, room, userID, role)
	return args.Error(0)
}

func (m *MembershipRepositoryMock) SetActive(ctx context.Context, room models.RoomRef, userID int, active bool) error {
	args := m.Called(ctx, room, userID, active)
	return args.Error(0)
}

func (m *MembershipRepositoryMock) RecordSeen(ctx context.Context, room models.RoomRef, userID int, at time.Time) error {
	args := m.Called(ctx, room, userID, at)
	return args.Error(0)
}

func (m *MembershipRepositoryMock) SetClearedAt(ctx context.Context, room models.RoomRef, userID int, at time.Time) error {
	args := m.Called(ctx, room, userID, at)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Page(ctx context.Context, room models.RoomRef, q repositories.PageQuery, floor *time.Time) ([]models.Message, error) {
	args := m.Called(ctx, room, q, floor)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Mutate(ctx context.Context, messageID int, patch repositories.MessagePatch) (models.Message, error) {
	args := m.Called(ctx, messageID, patch)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Remove(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) RemoveAllInRoom(ctx context.Context, room models.RoomRef) (int64, error) {
	args := m.Called(ctx, room)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) CountInRoom(ctx context.Context, room models.RoomRef, since *time.Time) (int, error) {
	args := m.Called(ctx, room, since)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) LastSenderMessageAt(ctx context.Context, room models.RoomRef, senderID int) (*time.Time, error) {
	args := m.Called(ctx, room, senderID)
	var at *time.Time
	if val := args.Get(0); val != nil {
		at = val.(*time.Time)
	}
	return at, args.Error(1)
}

func (m *MessageRepositoryMock) SearchPreview(ctx context.Context, room models.RoomRef, query string, limit, offset int, floor *time.Time) ([]models.Message, error) {
	args := m.Called(ctx, room, query, limit, offset, floor)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type RoomStateRepositoryMock struct {
	mock.Mock
}

func (m *RoomStateRepositoryMock) Get(ctx context.Context, room models.RoomRef) (models.RoomState, error) {
	args := m.Called(ctx, room)
	var state models.RoomState
	if val := args.Get(0); val != nil {
		state = val.(models.RoomState)
	}
	return state, args.Error(1)
}

func (m *RoomStateRepositoryMock) GetPinnedID(ctx context.Context, room models.RoomRef) (*int, error) {
	args := m.Called(ctx, room)
	var id *int
	if val := args.Get(0); val != nil {
		id = val.(*int)
	}
	return id, args.Error(1)
}

func (m *RoomStateRepositoryMock) SetPinned(ctx context.Context, room models.RoomRef, messageID int) error {
	args := m.Called(ctx, room, messageID)
	return args.Error(0)
}

func (m *RoomStateRepositoryMock) ClearPinned(ctx context.Context, room models.RoomRef) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *RoomStateRepositoryMock) SetSlowMode(ctx context.Context, room models.RoomRef, seconds int) error {
	args := m.Called(ctx, room, seconds)
	return args.Error(0)
}

func (m *RoomStateRepositoryMock) Ban(ctx context.Context, room models.RoomRef, userID int) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}

func (m *RoomStateRepositoryMock) Unban(ctx context.Context, room models.RoomRef, userID int) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}

func (m *RoomStateRepositoryMock) IsBanned(ctx context.Context, room models.RoomRef, userID int) (bool, error) {
	args := m.Called(ctx, room, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomStateRepositoryMock) Mute(ctx context.Context, room models.RoomRef, userID int) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}

func (m *RoomStateRepositoryMock) Unmute(ctx context.Context, room models.RoomRef, userID int) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}

func (m *RoomStateRepositoryMock) IsMuted(ctx context.Context, room models.RoomRef, userID int) (bool, error) {
	args := m.Called(ctx, room, userID)
	return args.Bool(0), args.Error(1)
}

type FanoutMock struct {
	mock.Mock
}

func (m *FanoutMock) Publish(room models.RoomRef, event string, payload interface{}, opts service.PublishOptions) {
	m.Called(room, event, payload, opts)
}

type TypingTrackerMock struct {
	mock.Mock
}

func (m *TypingTrackerMock) SetTyping(ctx context.Context, room models.RoomRef, userID int) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}

func (m *TypingTrackerMock) ClearTyping(ctx context.Context, room models.RoomRef, userID int) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}

func (m *TypingTrackerMock) IsTyping(ctx context.Context, room models.RoomRef, userID int) (bool, error) {
	args := m.Called(ctx, room, userID)
	return args.Bool(0), args.Error(1)
}

type UserDirectoryMock struct {
	mock.Mock
}

func (m *UserDirectoryMock) Usernames(ctx context.Context, ids []int) (map[int]string, error) {
	args := m.Called(ctx, ids)
	var names map[int]string
	if val := args.Get(0); val != nil {
		names = val.(map[int]string)
	}
	return names, args.Error(1)
}

type TokenValidatorMock struct {
	mock.Mock
}

func (m *TokenValidatorMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MembershipRepository = (*MembershipRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.RoomStateRepository = (*RoomStateRepositoryMock)(nil)
var _ service.Fanout = (*FanoutMock)(nil)
var _ service.TypingTracker = (*TypingTrackerMock)(nil)
var _ service.UserDirectory = (*UserDirectoryMock)(nil)
