package gateway

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelab/spawn-orchestrator/internal/models"
	"github.com/forgelab/spawn-orchestrator/internal/session"
)

func newWSTestServer(t *testing.T, sessions *session.Manager) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	stream := NewLiveStateStream(sessions)
	router := gin.New()
	// The auth middleware is exercised separately; here the identity is
	// injected directly.
	router.GET("/api/ws/spawns/:id", func(c *gin.Context) {
		c.Set("user_id", "test-user")
		stream.StreamSpawn(c)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialSpawn(t *testing.T, srv *httptest.Server, spawnID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/api/ws/spawns/%s", spawnID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStateEvent(t *testing.T, conn *websocket.Conn) models.StateEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event models.StateEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestLiveStateStream_SendsCurrentSnapshotOnConnect(t *testing.T) {
	sessions := newTestManager(&scriptedClient{responses: []openai.ChatCompletionResponse{assistantText(specJSON)}})
	defer sessions.Shutdown()

	actor := sessions.Create()
	srv := newWSTestServer(t, sessions)

	conn := dialSpawn(t, srv, actor.ID().String())

	event := readStateEvent(t, conn)
	assert.Equal(t, models.EventTypeState, event.EventType)
	assert.Equal(t, actor.ID().String(), event.Data.SpawnID)
	assert.Equal(t, models.StatusIdle, event.Data.Status)
}

func TestLiveStateStream_ForwardsTransitions(t *testing.T) {
	sessions := newTestManager(&scriptedClient{responses: []openai.ChatCompletionResponse{assistantText(specJSON)}})
	defer sessions.Shutdown()

	actor := sessions.Create()
	srv := newWSTestServer(t, sessions)
	conn := dialSpawn(t, srv, actor.ID().String())

	// Drain the connect-time snapshot before triggering the session.
	readStateEvent(t, conn)

	require.True(t, actor.Deliver("build me a notes app"))

	// Snapshots arrive in transition order until the session parks in
	// awaiting-approval.
	deadline := time.Now().Add(5 * time.Second)
	var last models.StateEvent
	for time.Now().Before(deadline) {
		last = readStateEvent(t, conn)
		if last.Data.Status == models.StatusAwaitingApproval {
			break
		}
	}

	require.Equal(t, models.StatusAwaitingApproval, last.Data.Status)
	require.NotNil(t, last.Data.Spec)
	assert.Equal(t, "notes-app", last.Data.Spec.Name)
}

func TestLiveStateStream_UnknownSpawnRejected(t *testing.T) {
	sessions := newTestManager(&scriptedClient{responses: []openai.ChatCompletionResponse{assistantText(specJSON)}})
	defer sessions.Shutdown()

	srv := newWSTestServer(t, sessions)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/spawns/00000000-0000-0000-0000-000000000000"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}
