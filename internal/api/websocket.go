// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/NovellaStudio/internal/store"
	"github.com/Corphon/NovellaStudio/internal/utils"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 256
	wsMaxMessage = 4096
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 本地单用户应用，允许任意来源
		return true
	},
}

// StoryMessage 推送给客户端的消息
type StoryMessage struct {
	Type      string `json:"type"`
	StoryID   string `json:"storyId,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message,omitempty"`
}

// hubClient 一个 WebSocket 连接
type hubClient struct {
	hub    *StoryHub
	conn   *websocket.Conn
	send   chan []byte
	filter atomic.Value // string，为空时接收全部故事的事件

	mu     sync.Mutex
	closed bool
}

func (c *hubClient) storyFilter() string {
	v, _ := c.filter.Load().(string)
	return v
}

func (c *hubClient) wants(storyID string) bool {
	filter := c.storyFilter()
	return filter == "" || storyID == "" || filter == storyID
}

// enqueue 不阻塞地写入发送队列，队列满时丢弃
func (c *hubClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送队列，writePump 随之退出
func (c *hubClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// StoryHub 将状态存储的变更事件广播给已连接的客户端
type StoryHub struct {
	clients    map[*hubClient]struct{}
	register   chan *hubClient
	unregister chan *hubClient
	broadcast  chan store.Event

	count     int64
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	running   int32

	logger  *utils.Logger
	metrics *utils.AppMetrics
}

// NewStoryHub 创建广播中心，需要调用 Run 后才会分发消息
func NewStoryHub(logger *utils.Logger) *StoryHub {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &StoryHub{
		clients:    make(map[*hubClient]struct{}),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcast:  make(chan store.Event, wsSendBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetMetrics 设置指标记录器
func (h *StoryHub) SetMetrics(m *utils.AppMetrics) {
	h.metrics = m
}

// Publish 将事件放入广播队列，可直接作为 store.Listener 使用
func (h *StoryHub) Publish(ev store.Event) {
	select {
	case <-h.stop:
	case h.broadcast <- ev:
	default:
		h.logger.Warn("⚠️ 广播队列已满，事件被丢弃", map[string]interface{}{
			"type":     string(ev.Type),
			"story_id": ev.StoryID,
		})
	}
}

// ClientCount 当前连接数
func (h *StoryHub) ClientCount() int {
	return int(atomic.LoadInt64(&h.count))
}

// Run 分发循环，阻塞直到 Close 被调用
func (h *StoryHub) Run() {
	if !atomic.CompareAndSwapInt32(&h.running, 0, 1) {
		return
	}
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case ev := <-h.broadcast:
			data, err := json.Marshal(StoryMessage{
				Type:      string(ev.Type),
				StoryID:   ev.StoryID,
				Timestamp: ev.Timestamp,
			})
			if err != nil {
				continue
			}
			for client := range h.clients {
				if !client.wants(ev.StoryID) {
					continue
				}
				if !client.enqueue(data) {
					// 消费太慢的客户端直接断开
					h.drop(client)
				}
			}
		}
	}
}

// drop 只能在 Run 循环中调用
func (h *StoryHub) drop(client *hubClient) {
	delete(h.clients, client)
	client.closeSend()
	h.setCount()
}

func (h *StoryHub) setCount() {
	atomic.StoreInt64(&h.count, int64(len(h.clients)))
	if h.metrics != nil {
		h.metrics.Collector().SetGauge("websocket_connections", int64(len(h.clients)))
	}
}

// Close 停止分发并断开所有客户端，可重复调用
func (h *StoryHub) Close() {
	h.closeOnce.Do(func() {
		close(h.stop)
		if atomic.LoadInt32(&h.running) == 1 {
			<-h.done
		}
	})
}

func (h *StoryHub) add(client *hubClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stop:
		return false
	}
}

func (h *StoryHub) remove(client *hubClient) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}
