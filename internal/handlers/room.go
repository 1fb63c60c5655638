package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/service"
	"messaging-service/internal/telemetry"
)

// RoomHandler covers room creation and membership management.
type RoomHandler struct {
	rooms       repositories.RoomRepository
	memberships repositories.MembershipRepository
	authority   *service.Authority
	audit       *telemetry.AuditEmitter
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms repositories.RoomRepository, memberships repositories.MembershipRepository, authority *service.Authority, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{rooms: rooms, memberships: memberships, authority: authority, audit: audit}
}

// CreateRoom creates a group or channel owned by the caller.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := c.GetInt("userID")

	var body struct {
		Kind string `json:"kind" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, ok := models.ParseRoomKind(body.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room kind"})
		return
	}

	room, err := h.rooms.Create(c.Request.Context(), kind, body.Name, userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// Join adds the caller to the room as a plain member.
func (h *RoomHandler) Join(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.authority.Join(c.Request.Context(), room, userID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Leave deactivates the caller's membership.
func (h *RoomHandler) Leave(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.authority.Leave(c.Request.Context(), room, userID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMembers returns the room's active roster. Members only.
func (h *RoomHandler) ListMembers(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if _, err := h.authority.RequireActive(c.Request.Context(), room, userID); err != nil {
		writeServiceError(c, err)
		return
	}

	members, err := h.memberships.ListActive(c.Request.Context(), room)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	type memberResponse struct {
		UserID   int         `json:"user_id"`
		Role     models.Role `json:"role"`
		JoinedAt time.Time   `json:"joined_at"`
	}
	resp := make([]memberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, memberResponse{UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	c.JSON(http.StatusOK, gin.H{"members": resp})
}

// SetRole promotes or demotes a member. Owner only.
func (h *RoomHandler) SetRole(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	targetID, ok := parseTargetUserID(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var body struct {
		Role models.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch body.Role {
	case models.RoleAdmin, models.RoleModerator, models.RoleMember:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	if err := h.authority.SetRole(c.Request.Context(), room, userID, targetID, body.Role); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Kick removes another member from the room.
func (h *RoomHandler) Kick(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	targetID, ok := parseTargetUserID(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.authority.Kick(c.Request.Context(), room, userID, targetID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Ban kicks a member and blocks them from rejoining.
func (h *RoomHandler) Ban(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	targetID, ok := parseTargetUserID(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.authority.BanUser(c.Request.Context(), room, userID, targetID); err != nil {
		writeServiceError(c, err)
		return
	}

	h.audit.Emit(c.Request.Context(), "WARN",
		fmt.Sprintf("user %d banned from %s", targetID, room),
		requestIDFromContext(c), userIDFromContext(c))
	c.Status(http.StatusNoContent)
}

// Unban lifts a ban.
func (h *RoomHandler) Unban(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	targetID, ok := parseTargetUserID(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.authority.UnbanUser(c.Request.Context(), room, userID, targetID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Mute blocks a member from sending without removing them.
func (h *RoomHandler) Mute(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	targetID, ok := parseTargetUserID(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.authority.MuteUser(c.Request.Context(), room, userID, targetID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Unmute lifts a mute.
func (h *RoomHandler) Unmute(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	targetID, ok := parseTargetUserID(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.authority.UnmuteUser(c.Request.Context(), room, userID, targetID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetSlowMode sets the room's slow-mode interval; zero disables it.
func (h *RoomHandler) SetSlowMode(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var body struct {
		Seconds *int `json:"seconds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.authority.SetSlowMode(c.Request.Context(), room, userID, *body.Seconds); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseTargetUserID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}
