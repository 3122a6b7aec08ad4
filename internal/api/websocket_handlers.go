// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// clientMessage 客户端发来的控制消息
type clientMessage struct {
	Type    string `json:"type"`
	StoryID string `json:"story_id"`
}

// ServeStories 处理 /ws/stories 连接，可用 story_id 参数只订阅一个故事
func (h *StoryHub) ServeStories(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("❌ WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &hubClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
	client.filter.Store(c.Query("story_id"))

	if !h.add(client) {
		conn.Close()
		return
	}

	h.logger.Info("📱 WebSocket 客户端已连接", map[string]interface{}{
		"story_id": client.storyFilter(),
		"clients":  h.ClientCount(),
	})

	client.reply(StoryMessage{Type: "welcome", StoryID: client.storyFilter(), Message: "connected"})

	go client.writePump()
	client.readPump()
}

// readPump 读取控制消息，连接断开后注销客户端
func (c *hubClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("WebSocket 连接异常关闭", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(StoryMessage{Type: "error", Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			c.reply(StoryMessage{Type: "pong"})
		case "subscribe":
			c.filter.Store(msg.StoryID)
			c.reply(StoryMessage{Type: "subscribed", StoryID: msg.StoryID})
		default:
			c.reply(StoryMessage{Type: "error", Message: "unknown message type: " + msg.Type})
		}
	}
}

// writePump 发送队列中的消息并定期 ping，发送队列关闭后退出
func (c *hubClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubClient) reply(msg StoryMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}
