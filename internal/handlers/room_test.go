package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/service"
)

type roomFixture struct {
	rooms       *mocks.RoomRepositoryMock
	memberships *mocks.MembershipRepositoryMock
	state       *mocks.RoomStateRepositoryMock
	router      *gin.Engine
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &roomFixture{
		rooms:       new(mocks.RoomRepositoryMock),
		memberships: new(mocks.MembershipRepositoryMock),
		state:       new(mocks.RoomStateRepositoryMock),
	}
	authority := service.NewAuthority(f.rooms, f.memberships, f.state)
	handler := NewRoomHandler(f.rooms, f.memberships, authority, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.POST("/rooms", handler.CreateRoom)
	room := r.Group("/rooms/:kind/:id")
	room.POST("/join", handler.Join)
	room.GET("/members", handler.ListMembers)
	room.PUT("/members/:user_id/role", handler.SetRole)
	f.router = r
	return f
}

func TestCreateRoomSuccess(t *testing.T) {
	f := newRoomFixture(t)

	f.rooms.On("Create", mock.Anything, models.RoomGroup, "release crew", 1).
		Return(models.Room{ID: 12, Kind: models.RoomGroup, Name: "release crew", OwnerID: 1}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewBufferString(`{"kind":"group","name":"release crew"}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.EqualValues(t, 12, resp["id"])
	f.rooms.AssertExpectations(t)
}

func TestCreateRoomInvalidKind(t *testing.T) {
	f := newRoomFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewBufferString(`{"kind":"fleet","name":"x"}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinBannedUser(t *testing.T) {
	f := newRoomFixture(t)
	room := models.RoomRef{Kind: models.RoomGroup, ID: 7}

	f.rooms.On("Get", mock.Anything, room).Return(models.Room{ID: 7, Kind: models.RoomGroup}, nil).Once()
	f.state.On("IsBanned", mock.Anything, room, 1).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/rooms/group/7/join", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListMembersSuccess(t *testing.T) {
	f := newRoomFixture(t)
	room := models.RoomRef{Kind: models.RoomGroup, ID: 7}

	f.rooms.On("Get", mock.Anything, room).Return(models.Room{ID: 7, Kind: models.RoomGroup}, nil)
	f.memberships.On("Get", mock.Anything, room, 1).Return(models.Membership{
		RoomKind: models.RoomGroup, RoomID: 7, UserID: 1, Role: models.RoleMember, Active: true,
	}, nil)
	f.memberships.On("ListActive", mock.Anything, room).Return([]models.Membership{
		{UserID: 1, Role: models.RoleOwner}, {UserID: 2, Role: models.RoleMember},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms/group/7/members", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Members []map[string]any `json:"members"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Members, 2)
}

func TestSetRoleRejectsUnknownRole(t *testing.T) {
	f := newRoomFixture(t)

	req := httptest.NewRequest(http.MethodPut, "/rooms/group/7/members/3/role", bytes.NewBufferString(`{"role":"emperor"}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
