// ws.go: WebSocket 快照推送: 连接后先发当前快照, 之后转发 bus 消息。
package dashboard

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/agent-console/internal/bus"
	"github.com/multi-agent/agent-console/pkg/logger"
	"github.com/multi-agent/agent-console/pkg/util"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 4 << 10 // 客户端只发控制帧
)

// checkLocalOrigin 只允许本机页面或同源页面建立连接。
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // 无 Origin = 非浏览器客户端
	}
	origin = strings.ToLower(origin)
	for _, allowed := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
	} {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	host := strings.ToLower(r.Host)
	if origin == "http://"+host || origin == "https://"+host {
		return true
	}
	logger.Warn("dashboard: rejected non-local origin", logger.FieldRemote, origin)
	return false
}

// initialMessage 以 bus 消息的形式返回当前快照; 快照不属于 filter 对应的会话时返回 false。
func (s *Server) initialMessage(filter string) (bus.Message, bool) {
	snap := s.deps.Controller.Snapshot()
	if filter != bus.TopicAll && filter != bus.SessionTopic(snap.SessionID, "") {
		return bus.Message{}, false
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		logger.Warn("dashboard: marshal snapshot failed", logger.FieldError, err)
		return bus.Message{}, false
	}
	return bus.Message{
		Topic:     bus.SessionTopic(snap.SessionID, "snapshot"),
		Type:      bus.MsgSessionSnapshot,
		Payload:   raw,
		Timestamp: time.Now(),
	}, true
}

func (s *Server) wsHandler(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("dashboard: ws upgrade failed", logger.FieldError, err)
		return
	}
	ws.SetReadLimit(wsMaxMessageSize)

	clientID := "ws-" + uuid.NewString()
	filter := subscriptionFilter(c)
	sub := s.deps.Bus.Subscribe(clientID, filter)
	logger.Info("dashboard: ws client connected",
		logger.FieldSubscriber, clientID,
		logger.FieldTopic, filter,
		logger.FieldRemote, c.Request.RemoteAddr)

	// 读循环只用于感知断开与 pong
	closed := make(chan struct{})
	util.SafeGoNamed("ws-read", func() {
		defer close(closed)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	defer func() {
		s.deps.Bus.Unsubscribe(clientID)
		_ = ws.Close()
		logger.Info("dashboard: ws client disconnected", logger.FieldSubscriber, clientID)
	}()

	write := func(v any) error {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return ws.WriteJSON(v)
	}

	if msg, ok := s.initialMessage(filter); ok {
		if err := write(msg); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-sub.Ch:
			if !ok {
				return
			}
			if err := write(msg); err != nil {
				logger.Debug("dashboard: ws write failed", logger.FieldSubscriber, clientID, logger.FieldError, err)
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
