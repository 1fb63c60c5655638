package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/service"
)

// Hub maintains the active websocket sessions, indexed by room and by user.
// It is the concrete fanout behind the lifecycle engine: delivery is
// best-effort, at most once per session, and a failed write drops the
// session rather than failing the publish.
type Hub struct {
	rooms map[models.RoomRef]map[*Session]bool
	users map[int]map[*Session]bool
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[models.RoomRef]map[*Session]bool),
		users: make(map[int]map[*Session]bool),
	}
}

// Join registers a session with its room and user index.
func (h *Hub) Join(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[s.room]; !ok {
		h.rooms[s.room] = make(map[*Session]bool)
	}
	h.rooms[s.room][s] = true
	if _, ok := h.users[s.info.UserID]; !ok {
		h.users[s.info.UserID] = make(map[*Session]bool)
	}
	h.users[s.info.UserID][s] = true
}

// Leave removes a session from both indexes. Idempotent.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sessions, ok := h.rooms[s.room]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.rooms, s.room)
		}
	}
	if sessions, ok := h.users[s.info.UserID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.users, s.info.UserID)
		}
	}
}

// Publish delivers an event to every session joined to the room, honoring
// the exclude-sender and echo-to-sender variants. Echoed sessions of the
// acting user are included even when joined elsewhere, so a user's other
// devices stay in sync.
func (h *Hub) Publish(room models.RoomRef, event string, payload interface{}, opts service.PublishOptions) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal ws payload")
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[room]))
	seen := make(map[*Session]bool)
	for s := range h.rooms[room] {
		if opts.ExcludeUser != 0 && s.info.UserID == opts.ExcludeUser {
			continue
		}
		targets = append(targets, s)
		seen[s] = true
	}
	if opts.EchoToUser != 0 {
		for s := range h.users[opts.EchoToUser] {
			if !seen[s] {
				targets = append(targets, s)
			}
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.write(body); err != nil {
			log.Warn().Err(err).Str("room", room.String()).Int("user_id", s.info.UserID).Msg("websocket write error")
			s.close()
			h.Leave(s)
			h.publishWSError(s, err)
		}
	}
	observability.IncWSEvent(string(room.Kind), event)
}

func (h *Hub) publishWSError(s *Session, err error) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        string(s.room.Kind),
			"resource_id": s.room.ID,
			"event":       "ws_error",
			"conn_id":     s.info.ConnID,
			"duration_ms": time.Since(s.info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   s.info.UserID,
			"device_id": s.info.DeviceID,
			"ip":        s.info.IP,
		},
	}

	headers := observability.BuildHeaders(s.info.RequestID, s.info.TraceID)
	_ = observability.PublishEvent(context.Background(), wsRoutingKey(s.room.Kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(string(s.room.Kind), "ws_error")
}

func wsRoutingKey(kind models.RoomKind) string {
	return "ws_events." + string(kind)
}

var _ service.Fanout = (*Hub)(nil)
