package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType 定义推送消息类型
type MessageType string

const (
	MessageTypeNewMail  MessageType = "new_mail"
	MessageTypeExpiring MessageType = "expiring_soon"
	MessageTypePing     MessageType = "ping"
	MessageTypePong     MessageType = "pong"
	MessageTypeError    MessageType = "error"
)

// Message 推送消息结构
type Message struct {
	Type      MessageType `json:"type"`
	Identity  string      `json:"identity,omitempty"`
	Previews  []string    `json:"previews,omitempty"`
	Address   string      `json:"address,omitempty"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// client 一条 WebSocket 连接，订阅单个 identity 的新邮件推送。
type client struct {
	id       string
	identity string
	conn     *websocket.Conn
	send     chan []byte
}

// Hub 管理 WebSocket 连接并按 identity 广播新邮件预览。
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	log        *zap.Logger

	mu         sync.RWMutex
	byIdentity map[string]map[string]*client // identity -> clientID -> client
}

// NewHub 创建推送 Hub。
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *Message, 64),
		byIdentity: make(map[string]map[string]*client),
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Run 运行 Hub 的注册/广播主循环，阻塞直到 ctx 取消。
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.register:
			h.mu.Lock()
			if h.byIdentity[c.identity] == nil {
				h.byIdentity[c.identity] = make(map[string]*client)
			}
			h.byIdentity[c.identity][c.id] = c
			h.mu.Unlock()
			h.log.Debug("websocket client registered",
				zap.String("identity", c.identity),
				zap.String("client", c.id),
			)
		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.byIdentity[c.identity]; ok {
				if _, ok := clients[c.id]; ok {
					delete(clients, c.id)
					close(c.send)
					if len(clients) == 0 {
						delete(h.byIdentity, c.identity)
					}
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// NotifyNewMail 向 identity 的全部在线连接推送新邮件预览。
// Hub 满载时丢弃推送（轮询下一周期仍可见，推送只是加速）。
func (h *Hub) NotifyNewMail(identity string, previews []string) {
	msg := &Message{
		Type:      MessageTypeNewMail,
		Identity:  identity,
		Previews:  previews,
		Timestamp: time.Now().UTC(),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("notification dropped, broadcast queue full",
			zap.String("identity", identity),
		)
	}
}

// NotifyExpiring 向 identity 的在线连接推送邮箱即将过期的提醒。
func (h *Hub) NotifyExpiring(identity, address string, expiresAt time.Time) {
	msg := &Message{
		Type:      MessageTypeExpiring,
		Identity:  identity,
		Address:   address,
		ExpiresAt: &expiresAt,
		Timestamp: time.Now().UTC(),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("expiry warning dropped, broadcast queue full",
			zap.String("identity", identity),
		)
	}
}

func (h *Hub) deliver(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal notification", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.byIdentity[msg.Identity] {
		select {
		case c.send <- data:
		default:
			// 慢客户端不阻塞广播
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.byIdentity {
		for _, c := range clients {
			close(c.send)
		}
	}
	h.byIdentity = make(map[string]map[string]*client)
}

// SubscriberCount 返回 identity 的在线连接数。
func (h *Hub) SubscriberCount(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byIdentity[identity])
}

// HandleWS 处理 WebSocket 升级请求，identity 取自路径参数。
func (h *Hub) HandleWS(c *gin.Context) {
	identity := c.Param("identity")
	if identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:       uuid.New().String(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, 16),
	}
	h.register <- cl

	go cl.writeLoop()
	go cl.readLoop(h)
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	}
}
