package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgelab/spawn-orchestrator/internal/models"
	"github.com/forgelab/spawn-orchestrator/internal/session"
)

var wsTracer = otel.Tracer("websocket-gateway")

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

// LiveStateStream handles WebSocket connections for live session state
type LiveStateStream struct {
	sessions *session.Manager
	tracer   trace.Tracer
}

// NewLiveStateStream creates a new live state WebSocket handler
func NewLiveStateStream(sessions *session.Manager) *LiveStateStream {
	return &LiveStateStream{
		sessions: sessions,
		tracer:   wsTracer,
	}
}

// StreamSpawn handles WebSocket /api/ws/spawns/:id
// @Summary Stream live spawn state
// @Description WebSocket endpoint streaming state snapshots for a spawn session; the current snapshot is sent immediately on connect
// @Tags spawns
// @Param id path string true "Spawn ID"
// @Param token query string false "JWT token"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /ws/spawns/{id} [get]
func (s *LiveStateStream) StreamSpawn(c *gin.Context) {
	_, span := s.tracer.Start(c.Request.Context(), "websocket.stream_spawn")
	defer span.End()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid spawn ID", Code: models.ErrCodeInvalidRequest})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not authenticated", Code: models.ErrCodeUnauthorized})
		return
	}

	span.SetAttributes(
		attribute.String("spawn.id", id.String()),
		attribute.String("user.id", userID.(string)),
	)

	actor := s.sessions.Get(id)
	if actor == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Spawn not found", Code: models.ErrCodeNotFound})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("Failed to upgrade connection for spawn %s: %v", id, err)
		return
	}
	defer conn.Close()

	log.Printf("WebSocket connected for spawn %s, user %s", id, userID)

	snapshots, cancel := actor.Hub().Subscribe()
	defer cancel()

	// Client messages are not part of the protocol; the read loop only
	// detects disconnects.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			event := models.StateEvent{EventType: models.EventTypeState, Data: snap}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					span.RecordError(err)
					log.Printf("WebSocket write error for spawn %s: %v", id, err)
				}
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			log.Printf("WebSocket closed for spawn %s", id)
			return
		}
	}
}
