// sse.go: SSE handler: 订阅 bus 并推送会话快照与提示。
package dashboard

import (
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/multi-agent/agent-console/internal/bus"
	"github.com/multi-agent/agent-console/pkg/logger"
)

// subscriptionFilter ?sessionId= 限定单个会话, 缺省订阅全部。
func subscriptionFilter(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("sessionId")); id != "" {
		return bus.SessionTopic(id, "")
	}
	return bus.TopicAll
}

// sseHandler Gin SSE handler。
func (s *Server) sseHandler(c *gin.Context) {
	clientID := "sse-" + uuid.NewString()
	filter := subscriptionFilter(c)
	sub := s.deps.Bus.Subscribe(clientID, filter)
	defer func() {
		s.deps.Bus.Unsubscribe(clientID)
		logger.Info("dashboard: SSE client disconnected", logger.FieldSubscriber, clientID)
	}()

	logger.Info("dashboard: SSE client connected", logger.FieldSubscriber, clientID, logger.FieldTopic, filter)

	// 先推送当前快照, 订阅方不必等待下一次变化
	if msg, ok := s.initialMessage(filter); ok {
		c.SSEvent(msg.Type, msg)
		c.Writer.Flush()
	}

	// 复用 timer 避免每次循环创建新定时器
	keepalive := time.NewTimer(s.keepalive)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-sub.Ch:
			if !ok {
				return false
			}
			c.SSEvent(msg.Type, msg)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(s.keepalive)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			keepalive.Reset(s.keepalive)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
