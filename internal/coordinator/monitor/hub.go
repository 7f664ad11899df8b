// Package monitor 执行状态 WebSocket 推送
//
// 节点状态变化、执行日志回报、执行终结、任务状态变化都会以 Message 广播给
// 所有连接到 GET /ws/monitor 的客户端。推送失败只记录日志，不影响业务流程。
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"testexec-platform/internal/coordinator/metrics"
)

// 消息类型
const (
	MsgSnapshot     = "snapshot"
	MsgNodeStatus   = "node_status"
	MsgExecutionLog = "execution_log"
	MsgExecution    = "execution"
	MsgTask         = "task"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域（无鉴权）
	},
}

// Message WebSocket 消息
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher 业务组件使用的推送接口
type Publisher interface {
	Publish(msgType string, data interface{})
}

// NopPublisher 不推送
type NopPublisher struct{}

func (NopPublisher) Publish(string, interface{}) {}

// SnapshotFunc 新连接建立时发送的初始数据
type SnapshotFunc func(ctx context.Context) (interface{}, error)

// Hub WebSocket 连接管理与广播
type Hub struct {
	// mu 同时串行化所有写操作，gorilla 连接不支持并发写
	mu       sync.Mutex
	clients  map[*websocket.Conn]string
	snapshot SnapshotFunc
	metrics  *metrics.Metrics
	log      *zap.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub 创建 Hub，snapshot 可为 nil
func NewHub(snapshot SnapshotFunc, m *metrics.Metrics, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[*websocket.Conn]string),
		snapshot: snapshot,
		metrics:  m,
		log:      log.Named("monitor.ws"),
	}
}

// HandleWebSocket 处理 WebSocket 连接
//
// 路由: GET /ws/monitor
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	id := uuid.NewString()

	if h.snapshot != nil {
		if data, err := h.snapshot(r.Context()); err != nil {
			h.log.Warn("build snapshot failed", zap.Error(err))
		} else {
			h.mu.Lock()
			h.write(conn, h.encode(Message{Type: MsgSnapshot, Data: data, Timestamp: time.Now()}))
			h.mu.Unlock()
		}
	}

	h.mu.Lock()
	h.clients[conn] = id
	total := len(h.clients)
	h.mu.Unlock()
	h.metrics.WSConnectionOpened()
	h.log.Info("client connected", zap.String("client", id), zap.Int("total", total))

	go h.readPump(conn, id)
}

// readPump 读取客户端消息（保持连接），连接断开时移除
func (h *Hub) readPump(conn *websocket.Conn, id string) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()
		conn.Close()
		h.metrics.WSConnectionClosed()
		h.log.Info("client disconnected", zap.String("client", id), zap.Int("remaining", remaining))
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("read error", zap.String("client", id), zap.Error(err))
			}
			return
		}
	}
}

// Publish 广播消息
func (h *Hub) Publish(msgType string, data interface{}) {
	payload := h.encode(Message{Type: msgType, Data: data, Timestamp: time.Now()})
	if payload == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		h.write(conn, payload)
	}
	h.metrics.RecordWSMessage(msgType)
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run 定时发送 ping，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					h.log.Debug("ping failed", zap.String("client", h.clients[conn]), zap.Error(err))
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
		conn.Close()
	}
}

func (h *Hub) encode(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal message failed", zap.String("type", msg.Type), zap.Error(err))
		return nil
	}
	return data
}

// write 调用方需持有 mu
func (h *Hub) write(conn *websocket.Conn, payload []byte) {
	if payload == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.log.Debug("write failed", zap.String("client", h.clients[conn]), zap.Error(err))
	}
}
