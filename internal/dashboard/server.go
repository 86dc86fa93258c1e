// Package dashboard 提供操作台 HTTP 服务: 会话控制 REST API、会话存储 API、
// 文件列表/下载, 以及经 SSE 与 WebSocket 推送的会话快照。
package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/agent-console/internal/bus"
	"github.com/multi-agent/agent-console/internal/conversation"
	"github.com/multi-agent/agent-console/internal/files"
	"github.com/multi-agent/agent-console/internal/session"
	"github.com/multi-agent/agent-console/pkg/logger"
)

const defaultSSEKeepalive = 30 * time.Second

// Deps 聚合所有依赖 (一次注入)。LocalFiles / FileCache 可为 nil。
type Deps struct {
	Controller   *conversation.Controller
	Sessions     session.Store
	Sync         *session.Synchronizer
	Files        files.Lister
	LocalFiles   *files.LocalStore
	FileCache    *files.CachedLister
	Bus          *bus.MessageBus
	SSEKeepalive time.Duration
}

// Server 操作台 HTTP 服务。
type Server struct {
	router    *gin.Engine
	deps      Deps
	keepalive time.Duration
	upgrader  websocket.Upgrader
}

// NewServer 创建服务并注册路由。
func NewServer(deps Deps) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())
	keepalive := deps.SSEKeepalive
	if keepalive <= 0 {
		keepalive = defaultSSEKeepalive
	}
	s := &Server{
		router:    r,
		deps:      deps,
		keepalive: keepalive,
		upgrader:  websocket.Upgrader{CheckOrigin: checkLocalOrigin},
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Handler 实现 http.Handler 供 http.Server 使用。
func (s *Server) Handler() http.Handler { return s.router }

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"subscribers": s.deps.Bus.SubscriberCount(),
			"published":   s.deps.Bus.Seq(),
			"dropped":     s.deps.Bus.Dropped(),
		})
	})

	api := s.router.Group("/api")

	chat := api.Group("/chat")
	chat.POST("/session", s.newSession)
	chat.POST("/query", s.submitQuery)
	chat.POST("/stop", s.stopTurn)
	chat.POST("/workspace/close", s.closeWorkspace)
	chat.POST("/restore", s.restoreTurn)
	chat.GET("/state", s.currentState)
	chat.GET("/sync/:reqId", s.syncState)

	cs := api.Group("/chat_session")
	cs.POST("/create", s.createChatSession)
	cs.POST("/update", s.updateChatSession)
	cs.POST("/get", s.getChatSession)
	cs.POST("/list", s.listChatSessions)
	cs.POST("/delete", s.deleteChatSession)

	api.GET("/files/:reqId", s.listFiles)
	api.GET("/files/:reqId/:name", s.downloadFile)

	api.GET("/events", s.sseHandler)
	s.router.GET("/ws", s.wsHandler)
}

// accessLog 结构化访问日志。
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLog := logger.With(logger.FieldMethod, c.Request.Method, logger.FieldPath, c.Request.URL.Path)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLog))
		c.Next()
		if c.Request.URL.Path == "/healthz" {
			return
		}
		logger.Debug("dashboard: request",
			logger.FieldMethod, c.Request.Method,
			logger.FieldPath, c.Request.URL.Path,
			logger.FieldStatus, c.Writer.Status(),
			logger.FieldLatencyMS, time.Since(start).Milliseconds())
	}
}
