package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/repositories"
	"messaging-service/internal/service"
	"messaging-service/internal/telemetry"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// MessageHandler exposes the message lifecycle over REST.
type MessageHandler struct {
	engine *service.Engine
	audit  *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(engine *service.Engine, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{engine: engine, audit: audit}
}

// ListMessages returns an id-anchored page of the caller's visible history.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	page := repositories.PageQuery{Limit: defaultPageSize}
	if raw := c.Query("before_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before_id"})
			return
		}
		page.BeforeID = id
	}
	if raw := c.Query("after_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_id"})
			return
		}
		page.AfterID = id
	}
	if page.BeforeID != 0 && page.AfterID != 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before_id and after_id are exclusive"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
		page.Limit = limit
	}

	views, err := h.engine.History(c.Request.Context(), room, userID, page)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

type contactBody struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone" binding:"required"`
}

type postMessageBody struct {
	Text      string       `json:"text"`
	Sticker   *string      `json:"sticker"`
	Lat       *float64     `json:"lat"`
	Lng       *float64     `json:"lng"`
	Contact   *contactBody `json:"contact"`
	MediaRef  *string      `json:"media_ref"`
	ReplyToID *int         `json:"reply_to_id"`
	Forwarded bool         `json:"forwarded"`
}

// PostMessage stores a new message and broadcasts it to the room.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var body postMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := service.SendRequest{
		Text:      body.Text,
		Sticker:   body.Sticker,
		Lat:       body.Lat,
		Lng:       body.Lng,
		MediaRef:  body.MediaRef,
		ReplyToID: body.ReplyToID,
		Forwarded: body.Forwarded,
	}
	if body.Contact != nil {
		req.Contact = &service.ContactCard{Name: body.Contact.Name, Phone: body.Contact.Phone}
	}

	view, err := h.engine.Send(c.Request.Context(), room, userID, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// EditMessage replaces a message's text. Author-only.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var body struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.engine.Edit(c.Request.Context(), room, userID, messageID, body.Text)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DeleteMessage removes a message for everyone.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.engine.Delete(c.Request.Context(), room, userID, messageID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPin returns the room's pinned message, if any.
func (h *MessageHandler) GetPin(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	view, err := h.engine.GetPinned(c.Request.Context(), room, userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pinned": view})
}

// SetPin pins a message, replacing any previous pin.
func (h *MessageHandler) SetPin(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var body struct {
		MessageID int `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.engine.Pin(c.Request.Context(), room, userID, body.MessageID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ClearPin empties the pin slot.
func (h *MessageHandler) ClearPin(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.engine.Unpin(c.Request.Context(), room, userID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkSeen advances the caller's read receipt.
func (h *MessageHandler) MarkSeen(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	at := time.Now().UTC()
	var body struct {
		At *int64 `json:"at"`
	}
	if err := c.ShouldBindJSON(&body); err == nil && body.At != nil {
		at = time.Unix(*body.At, 0).UTC()
	}

	if err := h.engine.MarkSeen(c.Request.Context(), room, userID, at); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Typing broadcasts the caller's typing state.
func (h *MessageHandler) Typing(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var body struct {
		Typing *bool `json:"typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.engine.Typing(c.Request.Context(), room, userID, *body.Typing)
	c.Status(http.StatusNoContent)
}

// ListTyping returns the room members currently typing.
func (h *MessageHandler) ListTyping(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	ids, err := h.engine.ListTyping(c.Request.Context(), room, userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"typing": ids})
}

// ClearHistoryForMe hides existing messages from the caller only.
func (h *MessageHandler) ClearHistoryForMe(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.engine.ClearHistoryForMe(c.Request.Context(), room, userID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearHistoryForAll deletes the room's history for everyone.
func (h *MessageHandler) ClearHistoryForAll(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.engine.ClearHistoryForAll(c.Request.Context(), room, userID); err != nil {
		writeServiceError(c, err)
		return
	}

	h.audit.Emit(c.Request.Context(), "WARN",
		fmt.Sprintf("history cleared for all in %s", room),
		requestIDFromContext(c), userIDFromContext(c))
	c.Status(http.StatusNoContent)
}

// SearchMessages substring-matches message previews.
func (h *MessageHandler) SearchMessages(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		limit = parsed
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		offset = parsed
	}

	views, err := h.engine.Search(c.Request.Context(), room, userID, c.Query("q"), limit, offset)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// UnreadCount returns how many visible messages the caller has not seen.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	room, ok := parseRoom(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	count, err := h.engine.UnreadCount(c.Request.Context(), room, userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}
