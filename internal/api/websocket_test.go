package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/NovellaStudio/internal/models"
	"github.com/Corphon/NovellaStudio/internal/storage"
	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*StoryHub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewStoryHub(utils.NewLogger(zap.NewNop()))
	go hub.Run()

	r := gin.New()
	r.GET("/ws/stories", hub.ServeStories)
	return hub, httptest.NewServer(r)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stories" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) StoryMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg StoryMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestStoryHubBroadcastsStoreEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub, srv := startHub(t)
	defer srv.Close()
	defer hub.Close()

	st, err := store.Open(context.Background(), storage.NewMemoryBackend(), utils.NewLogger(zap.NewNop()))
	require.NoError(t, err)
	unsubscribe := st.Subscribe(hub.Publish)
	defer unsubscribe()

	conn := dial(t, srv, "")
	defer conn.Close()
	assert.Equal(t, "welcome", readMessage(t, conn).Type)
	assert.Equal(t, 1, hub.ClientCount())

	story, err := st.Create(context.Background(), models.LanguageEnglish)
	require.NoError(t, err)

	msg := readMessage(t, conn)
	assert.Equal(t, string(store.EventStoryCreated), msg.Type)
	assert.Equal(t, story.ID, msg.StoryID)
}

func TestStoryHubFiltersByStory(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub, srv := startHub(t)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "?story_id=a")
	defer conn.Close()
	welcome := readMessage(t, conn)
	assert.Equal(t, "a", welcome.StoryID)

	hub.Publish(store.Event{Type: store.EventStoryUpdated, StoryID: "b"})
	hub.Publish(store.Event{Type: store.EventStoryUpdated, StoryID: "a"})

	// b 的事件被过滤，第一条收到的就是 a
	assert.Equal(t, "a", readMessage(t, conn).StoryID)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "subscribe", StoryID: "b"}))
	assert.Equal(t, "subscribed", readMessage(t, conn).Type)

	hub.Publish(store.Event{Type: store.EventStoryDeleted, StoryID: "b"})
	msg := readMessage(t, conn)
	assert.Equal(t, string(store.EventStoryDeleted), msg.Type)
	assert.Equal(t, "b", msg.StoryID)
}

func TestStoryHubControlMessages(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub, srv := startHub(t)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "shout"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Message, "shout")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "error", readMessage(t, conn).Type)
}

func TestStoryHubCloseDisconnectsClients(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub, srv := startHub(t)
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	readMessage(t, conn)

	hub.Close()
	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	// 关闭后的发布不会阻塞
	hub.Publish(store.Event{Type: store.EventStoryUpdated, StoryID: "x"})
}

func TestStoryHubCloseWithoutRun(t *testing.T) {
	hub := NewStoryHub(utils.NewLogger(zap.NewNop()))
	hub.Close()
	hub.Close()
	hub.Publish(store.Event{Type: store.EventStoryCreated})
	assert.Equal(t, 0, hub.ClientCount())
}
