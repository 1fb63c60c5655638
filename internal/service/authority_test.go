package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/service"
)

type authorityFixture struct {
	rooms       *mocks.RoomRepositoryMock
	memberships *mocks.MembershipRepositoryMock
	state       *mocks.RoomStateRepositoryMock
	authority   *service.Authority
}

func newAuthorityFixture() *authorityFixture {
	f := &authorityFixture{
		rooms:       new(mocks.RoomRepositoryMock),
		memberships: new(mocks.MembershipRepositoryMock),
		state:       new(mocks.RoomStateRepositoryMock),
	}
	f.authority = service.NewAuthority(f.rooms, f.memberships, f.state)
	return f
}

func (f *authorityFixture) givenRoom() {
	f.rooms.On("Get", mock.Anything, testRoom).
		Return(models.Room{ID: testRoom.ID, Kind: testRoom.Kind}, nil)
}

func (f *authorityFixture) givenMember(userID int, role models.Role) {
	f.memberships.On("Get", mock.Anything, testRoom, userID).Return(models.Membership{
		RoomKind: testRoom.Kind, RoomID: testRoom.ID, UserID: userID, Role: role, Active: true,
	}, nil)
}

func TestMembershipOfUnknownRoom(t *testing.T) {
	f := newAuthorityFixture()
	f.rooms.On("Get", mock.Anything, testRoom).Return(models.Room{}, repositories.ErrRoomNotFound)

	_, _, err := f.authority.MembershipOf(context.Background(), testRoom, 1)
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestMembershipOfInactiveMember(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.memberships.On("Get", mock.Anything, testRoom, 1).Return(models.Membership{
		RoomKind: testRoom.Kind, RoomID: testRoom.ID, UserID: 1, Role: models.RoleMember, Active: false,
	}, nil)

	_, ok, err := f.authority.MembershipOf(context.Background(), testRoom, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJoinBannedUserRejected(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.state.On("IsBanned", mock.Anything, testRoom, 5).Return(true, nil).Once()

	err := f.authority.Join(context.Background(), testRoom, 5)
	require.ErrorIs(t, err, service.ErrForbidden)
	f.memberships.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestJoinUpsertsPlainMembership(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.state.On("IsBanned", mock.Anything, testRoom, 5).Return(false, nil).Once()
	f.memberships.On("Upsert", mock.Anything, mock.MatchedBy(func(m models.Membership) bool {
		return m.UserID == 5 && m.Role == models.RoleMember
	})).Return(nil).Once()

	require.NoError(t, f.authority.Join(context.Background(), testRoom, 5))
	f.memberships.AssertExpectations(t)
}

func TestOwnerCannotLeave(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(1, models.RoleOwner)

	err := f.authority.Leave(context.Background(), testRoom, 1)
	require.ErrorIs(t, err, service.ErrForbidden)
}

func TestLeaveDeactivatesMembership(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(2, models.RoleMember)
	f.memberships.On("SetActive", mock.Anything, testRoom, 2, false).Return(nil).Once()

	require.NoError(t, f.authority.Leave(context.Background(), testRoom, 2))
	f.memberships.AssertExpectations(t)
}

func TestSetRoleOnlyOwner(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(2, models.RoleAdmin)

	err := f.authority.SetRole(context.Background(), testRoom, 2, 3, models.RoleModerator)
	require.ErrorIs(t, err, service.ErrForbidden)
}

func TestSetRoleOwnershipNotTransferable(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(1, models.RoleOwner)

	err := f.authority.SetRole(context.Background(), testRoom, 1, 3, models.RoleOwner)
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestSetRolePromotesMember(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(1, models.RoleOwner)
	f.givenMember(3, models.RoleMember)
	f.memberships.On("SetRole", mock.Anything, testRoom, 3, models.RoleAdmin).Return(nil).Once()

	require.NoError(t, f.authority.SetRole(context.Background(), testRoom, 1, 3, models.RoleAdmin))
	f.memberships.AssertExpectations(t)
}

func TestKickOwnerUntouchable(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(2, models.RoleAdmin)
	f.givenMember(1, models.RoleOwner)

	err := f.authority.Kick(context.Background(), testRoom, 2, 1)
	require.ErrorIs(t, err, service.ErrForbidden)
}

func TestKickSelfRejected(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(2, models.RoleAdmin)

	err := f.authority.Kick(context.Background(), testRoom, 2, 2)
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestBanKicksAndBlocks(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(2, models.RoleModerator)
	f.givenMember(3, models.RoleMember)
	f.memberships.On("SetActive", mock.Anything, testRoom, 3, false).Return(nil).Once()
	f.state.On("Ban", mock.Anything, testRoom, 3).Return(nil).Once()

	require.NoError(t, f.authority.BanUser(context.Background(), testRoom, 2, 3))
	f.state.AssertExpectations(t)
}

func TestMuteRequiresPrivilege(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(2, models.RoleMember)

	err := f.authority.MuteUser(context.Background(), testRoom, 2, 3)
	require.ErrorIs(t, err, service.ErrForbidden)
	f.state.AssertNotCalled(t, "Mute", mock.Anything, mock.Anything, mock.Anything)
}

func TestMuteOwnerRejected(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(2, models.RoleAdmin)
	f.givenMember(1, models.RoleOwner)

	err := f.authority.MuteUser(context.Background(), testRoom, 2, 1)
	require.ErrorIs(t, err, service.ErrForbidden)
}

func TestMuteAddsToMuteSet(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(2, models.RoleModerator)
	f.givenMember(3, models.RoleMember)
	f.state.On("Mute", mock.Anything, testRoom, 3).Return(nil).Once()

	require.NoError(t, f.authority.MuteUser(context.Background(), testRoom, 2, 3))
	f.state.AssertExpectations(t)
}

func TestSetSlowModeRejectsNegative(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(1, models.RoleAdmin)

	err := f.authority.SetSlowMode(context.Background(), testRoom, 1, -5)
	require.ErrorIs(t, err, service.ErrValidation)
	f.state.AssertNotCalled(t, "SetSlowMode", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetSlowModeStoresInterval(t *testing.T) {
	f := newAuthorityFixture()
	f.givenRoom()
	f.givenMember(1, models.RoleAdmin)
	f.state.On("SetSlowMode", mock.Anything, testRoom, 30).Return(nil).Once()

	require.NoError(t, f.authority.SetSlowMode(context.Background(), testRoom, 1, 30))
	f.state.AssertExpectations(t)
}

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, models.RoleOwner.Capabilities().IsOwner)
	assert.True(t, models.RoleOwner.Privileged())
	assert.True(t, models.RoleAdmin.Capabilities().IsModerator)
	assert.False(t, models.RoleAdmin.Capabilities().IsOwner)
	assert.True(t, models.RoleModerator.Privileged())
	assert.False(t, models.RoleMember.Privileged())
}
