package service_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/codec"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/service"
)

var testRoom = models.RoomRef{Kind: models.RoomGroup, ID: 7}

type engineFixture struct {
	rooms       *mocks.RoomRepositoryMock
	memberships *mocks.MembershipRepositoryMock
	messages    *mocks.MessageRepositoryMock
	state       *mocks.RoomStateRepositoryMock
	fanout      *mocks.FanoutMock
	typing      *mocks.TypingTrackerMock
	codec       *codec.Codec
	engine      *service.Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	cdc, err := codec.New(bytes.Repeat([]byte{0x17}, 32))
	require.NoError(t, err)

	f := &engineFixture{
		rooms:       new(mocks.RoomRepositoryMock),
		memberships: new(mocks.MembershipRepositoryMock),
		messages:    new(mocks.MessageRepositoryMock),
		state:       new(mocks.RoomStateRepositoryMock),
		fanout:      new(mocks.FanoutMock),
		typing:      new(mocks.TypingTrackerMock),
		codec:       cdc,
	}
	authority := service.NewAuthority(f.rooms, f.memberships, f.state)
	f.engine = service.NewEngine(authority, f.rooms, f.memberships, f.messages, f.state,
		cdc, f.fanout, f.typing, nil, nil)
	return f
}

func (f *engineFixture) givenMember(userID int, role models.Role) models.Membership {
	member := models.Membership{
		RoomKind: testRoom.Kind,
		RoomID:   testRoom.ID,
		UserID:   userID,
		Role:     role,
		Active:   true,
	}
	f.rooms.On("Get", mock.Anything, testRoom).Return(models.Room{ID: testRoom.ID, Kind: testRoom.Kind}, nil)
	f.memberships.On("Get", mock.Anything, testRoom, userID).Return(member, nil)
	return member
}

func (f *engineFixture) givenOutsider(userID int) {
	f.rooms.On("Get", mock.Anything, testRoom).Return(models.Room{ID: testRoom.ID, Kind: testRoom.Kind}, nil)
	f.memberships.On("Get", mock.Anything, testRoom, userID).
		Return(models.Membership{}, repositories.ErrMembershipNotFound)
}

func TestSendStoresEncryptedAndBroadcasts(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)
	f.state.On("IsMuted", mock.Anything, testRoom, 1).Return(false, nil).Once()
	f.state.On("Get", mock.Anything, testRoom).Return(models.RoomState{}, nil).Once()

	var appended models.Message
	f.messages.On("Append", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { appended = args.Get(1).(models.Message) }).
		Return(models.Message{ID: 42, RoomKind: testRoom.Kind, RoomID: testRoom.ID, SenderID: 1}, nil).Once()
	f.rooms.On("TouchActivity", mock.Anything, testRoom).Return(nil).Once()
	f.fanout.On("Publish", testRoom, models.EventMessageCreated, mock.Anything,
		service.PublishOptions{EchoToUser: 1}).Once()

	view, err := f.engine.Send(context.Background(), testRoom, 1, service.SendRequest{Text: "hi there"})
	require.NoError(t, err)
	assert.Equal(t, 42, view.ID)
	assert.Equal(t, "hi there", view.Text)

	// The stored row must carry ciphertext, never plaintext, and decrypt
	// under the stored creation timestamp.
	require.NotEmpty(t, appended.Ciphertext)
	assert.NotContains(t, string(appended.Ciphertext), "hi there")
	assert.Equal(t, "hi there", appended.Preview)
	plaintext, err := f.codec.Decode(codec.Envelope{
		Ciphertext: appended.Ciphertext,
		IV:         appended.IV,
		Tag:        appended.Tag,
		Version:    appended.CipherVersion,
	}, appended.CreatedAt.Unix())
	require.NoError(t, err)
	assert.Equal(t, "hi there", plaintext)

	f.fanout.AssertExpectations(t)
	f.messages.AssertExpectations(t)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)
	f.state.On("IsMuted", mock.Anything, testRoom, 1).Return(false, nil).Once()

	_, err := f.engine.Send(context.Background(), testRoom, 1, service.SendRequest{})
	require.ErrorIs(t, err, service.ErrValidation)
	f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSendRejectsHalfGeo(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)
	f.state.On("IsMuted", mock.Anything, testRoom, 1).Return(false, nil).Once()

	lat := 48.1
	_, err := f.engine.Send(context.Background(), testRoom, 1, service.SendRequest{Lat: &lat})
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestSendNonMemberForbidden(t *testing.T) {
	f := newEngineFixture(t)
	f.givenOutsider(9)

	_, err := f.engine.Send(context.Background(), testRoom, 9, service.SendRequest{Text: "hi"})
	require.ErrorIs(t, err, service.ErrForbidden)
}

func TestSendMutedForbidden(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)
	f.state.On("IsMuted", mock.Anything, testRoom, 1).Return(true, nil).Once()

	_, err := f.engine.Send(context.Background(), testRoom, 1, service.SendRequest{Text: "hi"})
	require.ErrorIs(t, err, service.ErrForbidden)
}

func TestSendRejectsCrossRoomReply(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)
	f.state.On("IsMuted", mock.Anything, testRoom, 1).Return(false, nil).Once()

	replyTo := 33
	f.messages.On("GetMessage", mock.Anything, 33).
		Return(models.Message{ID: 33, RoomKind: models.RoomDirect, RoomID: 2}, nil).Once()

	_, err := f.engine.Send(context.Background(), testRoom, 1,
		service.SendRequest{Text: "hi", ReplyToID: &replyTo})
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestSendSlowModeThrottlesPlainMembers(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)
	f.state.On("IsMuted", mock.Anything, testRoom, 1).Return(false, nil).Once()
	f.state.On("Get", mock.Anything, testRoom).
		Return(models.RoomState{RoomKind: testRoom.Kind, RoomID: testRoom.ID, SlowModeSeconds: 30}, nil).Once()

	last := time.Now().Add(-5 * time.Second)
	f.messages.On("LastSenderMessageAt", mock.Anything, testRoom, 1).Return(&last, nil).Once()

	_, err := f.engine.Send(context.Background(), testRoom, 1, service.SendRequest{Text: "again"})
	require.ErrorIs(t, err, service.ErrForbidden)
	f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSendSlowModeSkipsModerators(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleModerator)
	f.state.On("IsMuted", mock.Anything, testRoom, 1).Return(false, nil).Once()

	f.messages.On("Append", mock.Anything, mock.Anything).
		Return(models.Message{ID: 43, RoomKind: testRoom.Kind, RoomID: testRoom.ID, SenderID: 1}, nil).Once()
	f.rooms.On("TouchActivity", mock.Anything, testRoom).Return(nil).Once()
	f.fanout.On("Publish", testRoom, models.EventMessageCreated, mock.Anything,
		service.PublishOptions{EchoToUser: 1}).Once()

	_, err := f.engine.Send(context.Background(), testRoom, 1, service.SendRequest{Text: "mod"})
	require.NoError(t, err)
	f.state.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestEditByNonAuthorForbidden(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(2, models.RoleAdmin)

	f.messages.On("GetMessage", mock.Anything, 5).
		Return(models.Message{ID: 5, RoomKind: testRoom.Kind, RoomID: testRoom.ID, SenderID: 1, CreatedAt: time.Now()}, nil).Once()

	// Even an admin may not edit someone else's words.
	_, err := f.engine.Edit(context.Background(), testRoom, 2, 5, "rewritten")
	require.ErrorIs(t, err, service.ErrForbidden)
	f.messages.AssertNotCalled(t, "Mutate", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditReencryptsWithOriginalTimestamp(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	createdAt := time.Unix(1700000000, 0).UTC()
	f.messages.On("GetMessage", mock.Anything, 5).
		Return(models.Message{ID: 5, RoomKind: testRoom.Kind, RoomID: testRoom.ID, SenderID: 1, CreatedAt: createdAt}, nil).Once()

	var patch repositories.MessagePatch
	f.messages.On("Mutate", mock.Anything, 5, mock.Anything).
		Run(func(args mock.Arguments) { patch = args.Get(2).(repositories.MessagePatch) }).
		Return(models.Message{ID: 5, RoomKind: testRoom.Kind, RoomID: testRoom.ID, SenderID: 1, CreatedAt: createdAt, Edited: true}, nil).Once()
	f.fanout.On("Publish", testRoom, models.EventMessageEdited, mock.Anything, service.PublishOptions{}).Once()

	view, err := f.engine.Edit(context.Background(), testRoom, 1, 5, "new text")
	require.NoError(t, err)
	assert.True(t, view.Edited)

	plaintext, err := f.codec.Decode(codec.Envelope{
		Ciphertext: patch.Ciphertext,
		IV:         patch.IV,
		Tag:        patch.Tag,
		Version:    patch.CipherVersion,
	}, createdAt.Unix())
	require.NoError(t, err)
	assert.Equal(t, "new text", plaintext)
	assert.True(t, patch.Edited)
	f.fanout.AssertExpectations(t)
}

func TestDeleteByPlainMemberOfOthersMessageForbidden(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(2, models.RoleMember)

	f.messages.On("GetMessage", mock.Anything, 5).
		Return(models.Message{ID: 5, RoomKind: testRoom.Kind, RoomID: testRoom.ID, SenderID: 1}, nil).Once()

	err := f.engine.Delete(context.Background(), testRoom, 2, 5)
	require.ErrorIs(t, err, service.ErrForbidden)
	f.messages.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}

func TestDeleteByModeratorAllowed(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(2, models.RoleModerator)

	f.messages.On("GetMessage", mock.Anything, 5).
		Return(models.Message{ID: 5, RoomKind: testRoom.Kind, RoomID: testRoom.ID, SenderID: 1}, nil).Once()
	f.messages.On("Remove", mock.Anything, 5).
		Return(models.Message{ID: 5, RoomKind: testRoom.Kind, RoomID: testRoom.ID, SenderID: 1}, nil).Once()
	f.fanout.On("Publish", testRoom, models.EventMessageDeleted, mock.Anything, service.PublishOptions{}).Once()

	require.NoError(t, f.engine.Delete(context.Background(), testRoom, 2, 5))
	f.fanout.AssertExpectations(t)
}

func TestDeleteMessageFromOtherRoomNotFound(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	f.messages.On("GetMessage", mock.Anything, 5).
		Return(models.Message{ID: 5, RoomKind: models.RoomDirect, RoomID: 99, SenderID: 1}, nil).Once()

	err := f.engine.Delete(context.Background(), testRoom, 1, 5)
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestPinRequiresPrivilege(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	_, err := f.engine.Pin(context.Background(), testRoom, 1, 5)
	require.ErrorIs(t, err, service.ErrForbidden)
	f.state.AssertNotCalled(t, "SetPinned", mock.Anything, mock.Anything, mock.Anything)
}

func TestPinForeignMessageNotFound(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleAdmin)

	f.state.On("SetPinned", mock.Anything, testRoom, 5).Return(repositories.ErrMessageNotFound).Once()

	_, err := f.engine.Pin(context.Background(), testRoom, 1, 5)
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestPinBroadcastsFullMessage(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleAdmin)

	pinned := models.Message{ID: 5, RoomKind: testRoom.Kind, RoomID: testRoom.ID, SenderID: 2}
	f.state.On("SetPinned", mock.Anything, testRoom, 5).Return(nil).Once()
	f.messages.On("GetMessage", mock.Anything, 5).Return(pinned, nil).Once()
	f.fanout.On("Publish", testRoom, models.EventMessagePinned,
		mock.MatchedBy(func(payload interface{}) bool {
			event, ok := payload.(models.MessagePinnedEvent)
			return ok && event.MessageID == 5 && event.Message != nil
		}), service.PublishOptions{}).Once()

	view, err := f.engine.Pin(context.Background(), testRoom, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, view.ID)
	f.fanout.AssertExpectations(t)
}

func TestGetPinnedDanglingReturnsNil(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	pinnedID := 9
	f.state.On("GetPinnedID", mock.Anything, testRoom).Return(&pinnedID, nil).Once()
	f.messages.On("GetMessage", mock.Anything, 9).
		Return(models.Message{}, repositories.ErrMessageNotFound).Once()

	view, err := f.engine.GetPinned(context.Background(), testRoom, 1)
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestMarkSeenSurvivesPersistFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	at := time.Unix(1700000100, 0).UTC()
	f.memberships.On("RecordSeen", mock.Anything, testRoom, 1, at).Return(assert.AnError).Once()
	f.fanout.On("Publish", testRoom, models.EventSeen,
		models.SeenEvent{Type: models.EventSeen, UserID: 1, At: at.Unix()},
		service.PublishOptions{ExcludeUser: 1}).Once()

	require.NoError(t, f.engine.MarkSeen(context.Background(), testRoom, 1, at))
	f.fanout.AssertExpectations(t)
}

func TestTypingBroadcastsAndTracks(t *testing.T) {
	f := newEngineFixture(t)

	f.typing.On("SetTyping", mock.Anything, testRoom, 1).Return(nil).Once()
	f.fanout.On("Publish", testRoom, models.EventTyping,
		models.TypingEvent{Type: models.EventTyping, UserID: 1},
		service.PublishOptions{ExcludeUser: 1}).Once()

	f.engine.Typing(context.Background(), testRoom, 1, true)

	f.typing.On("ClearTyping", mock.Anything, testRoom, 1).Return(nil).Once()
	f.fanout.On("Publish", testRoom, models.EventTypingStopped,
		models.TypingEvent{Type: models.EventTypingStopped, UserID: 1},
		service.PublishOptions{ExcludeUser: 1}).Once()

	f.engine.Typing(context.Background(), testRoom, 1, false)
	f.fanout.AssertExpectations(t)
	f.typing.AssertExpectations(t)
}

func TestListTypingSkipsCaller(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	f.memberships.On("ListActive", mock.Anything, testRoom).Return([]models.Membership{
		{UserID: 1}, {UserID: 2}, {UserID: 3},
	}, nil).Once()
	f.typing.On("IsTyping", mock.Anything, testRoom, 2).Return(true, nil).Once()
	f.typing.On("IsTyping", mock.Anything, testRoom, 3).Return(false, nil).Once()

	ids, err := f.engine.ListTyping(context.Background(), testRoom, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ids)
}

func TestClearHistoryForMeMovesWatermark(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	f.memberships.On("SetClearedAt", mock.Anything, testRoom, 1, mock.Anything).Return(nil).Once()

	require.NoError(t, f.engine.ClearHistoryForMe(context.Background(), testRoom, 1))
	f.memberships.AssertExpectations(t)
	f.fanout.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClearHistoryForAllRequiresPrivilege(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	err := f.engine.ClearHistoryForAll(context.Background(), testRoom, 1)
	require.ErrorIs(t, err, service.ErrForbidden)
	f.messages.AssertNotCalled(t, "RemoveAllInRoom", mock.Anything, mock.Anything)
}

func TestClearHistoryForAllBroadcasts(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleAdmin)

	f.messages.On("RemoveAllInRoom", mock.Anything, testRoom).Return(int64(12), nil).Once()
	f.fanout.On("Publish", testRoom, models.EventHistoryCleared,
		models.HistoryClearedEvent{Type: models.EventHistoryCleared},
		service.PublishOptions{}).Once()

	require.NoError(t, f.engine.ClearHistoryForAll(context.Background(), testRoom, 1))
	f.fanout.AssertExpectations(t)
}

func TestHistoryAppliesWatermarkFloor(t *testing.T) {
	f := newEngineFixture(t)

	cleared := time.Unix(1700000000, 0).UTC()
	member := models.Membership{
		RoomKind: testRoom.Kind, RoomID: testRoom.ID, UserID: 1,
		Role: models.RoleMember, Active: true, ClearedAt: &cleared,
	}
	f.rooms.On("Get", mock.Anything, testRoom).Return(models.Room{ID: testRoom.ID, Kind: testRoom.Kind}, nil)
	f.memberships.On("Get", mock.Anything, testRoom, 1).Return(member, nil)

	f.messages.On("Page", mock.Anything, testRoom, repositories.PageQuery{Limit: 50},
		mock.MatchedBy(func(floor *time.Time) bool {
			return floor != nil && floor.Equal(cleared)
		})).Return([]models.Message{}, nil).Once()

	views, err := f.engine.History(context.Background(), testRoom, 1, repositories.PageQuery{Limit: 50})
	require.NoError(t, err)
	assert.Empty(t, views)
	f.messages.AssertExpectations(t)
}

func TestHistoryRendersUndecryptableMessageWithoutText(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	mangled := models.Message{
		ID:            4,
		RoomKind:      testRoom.Kind,
		RoomID:        testRoom.ID,
		SenderID:      2,
		Ciphertext:    []byte("garbage"),
		IV:            []byte("short"),
		Tag:           bytes.Repeat([]byte{0x01}, 16),
		CipherVersion: codec.CipherVersionGCM,
		CreatedAt:     time.Unix(1700000000, 0).UTC(),
	}
	f.messages.On("Page", mock.Anything, testRoom, repositories.PageQuery{Limit: 50}, (*time.Time)(nil)).
		Return([]models.Message{mangled}, nil).Once()

	views, err := f.engine.History(context.Background(), testRoom, 1, repositories.PageQuery{Limit: 50})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Empty(t, views[0].Text)
	assert.Equal(t, 4, views[0].ID)
	f.messages.AssertExpectations(t)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	f := newEngineFixture(t)
	f.givenMember(1, models.RoleMember)

	_, err := f.engine.Search(context.Background(), testRoom, 1, "", 10, 0)
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestUnreadCountUsesLaterOfSeenAndCleared(t *testing.T) {
	f := newEngineFixture(t)

	seen := time.Unix(1700000000, 0).UTC()
	cleared := time.Unix(1700000500, 0).UTC()
	member := models.Membership{
		RoomKind: testRoom.Kind, RoomID: testRoom.ID, UserID: 1,
		Role: models.RoleMember, Active: true, LastSeenAt: &seen, ClearedAt: &cleared,
	}
	f.rooms.On("Get", mock.Anything, testRoom).Return(models.Room{ID: testRoom.ID, Kind: testRoom.Kind}, nil)
	f.memberships.On("Get", mock.Anything, testRoom, 1).Return(member, nil)

	f.messages.On("CountInRoom", mock.Anything, testRoom,
		mock.MatchedBy(func(since *time.Time) bool {
			return since != nil && since.Equal(cleared)
		})).Return(3, nil).Once()

	count, err := f.engine.UnreadCount(context.Background(), testRoom, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
