package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"codec-bench/internal/metrics"
	"codec-bench/internal/shared/eventbus"
)

// upgrader WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// BuildLogGateway 构建日志 WebSocket 网关
//
// 连接建立后先回放已有日志，再跟随新日志；读到结束行后发送
// {"type":"status","data":{"done":true}} 并关闭连接。
type BuildLogGateway struct {
	bus     eventbus.BuildLogBus
	metrics *metrics.Metrics
}

// NewBuildLogGateway 创建网关
func NewBuildLogGateway(bus eventbus.BuildLogBus, m *metrics.Metrics) *BuildLogGateway {
	return &BuildLogGateway{bus: bus, metrics: m}
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/builds/{key}/logs
//
// 推送消息格式：
//
//	日志行：{"type": "log", "data": {"id": "...", "line": "...", "timestamp": "..."}}
//	结束：  {"type": "status", "data": {"done": true}}
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
func (g *BuildLogGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}
	if g.bus == nil {
		http.Error(w, "build logs unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[BuildLogs] WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	g.metrics.WSConnectionOpened()
	defer g.metrics.WSConnectionClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan any, 1)
	go g.readPump(conn, cancel, out)

	lines, err := g.bus.SubscribeBuildLogs(ctx, key)
	if err != nil {
		log.Printf("[BuildLogs] subscribe %s failed: %v", key, err)
		return
	}
	g.writePump(ctx, conn, lines, out)
}

// readPump 读取客户端消息，连接关闭时取消上下文
func (g *BuildLogGateway) readPump(conn *websocket.Conn, cancel context.CancelFunc, out chan<- any) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[BuildLogs] WebSocket read error: %v", err)
			}
			return
		}

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil && req["type"] == "ping" {
			select {
			case out <- map[string]string{"type": "pong"}:
			default:
			}
		}
	}
}

// writePump 推送日志行，所有写操作都在这里完成
func (g *BuildLogGateway) writePump(ctx context.Context, conn *websocket.Conn, lines <-chan *eventbus.BuildLogLine, out <-chan any) {
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	write := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("[BuildLogs] WebSocket write error: %v", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-out:
			if !write(msg) {
				return
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !write(map[string]interface{}{"type": "log", "data": line}) {
				return
			}
			if line.Done {
				write(map[string]interface{}{"type": "status", "data": map[string]bool{"done": true}})
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
		}
	}
}
