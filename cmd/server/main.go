// cmd/server: 操作台主入口: 流式聚合、会话同步与 HTTP/推送服务。
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/multi-agent/agent-console/internal/bus"
	"github.com/multi-agent/agent-console/internal/config"
	"github.com/multi-agent/agent-console/internal/conversation"
	"github.com/multi-agent/agent-console/internal/dashboard"
	"github.com/multi-agent/agent-console/internal/database"
	"github.com/multi-agent/agent-console/internal/files"
	"github.com/multi-agent/agent-console/internal/session"
	"github.com/multi-agent/agent-console/internal/store"
	"github.com/multi-agent/agent-console/internal/stream"
	"github.com/multi-agent/agent-console/internal/uistate"
	"github.com/multi-agent/agent-console/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir, cfg.LogLevel); err != nil {
			logger.Fatal("log file init failed", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	} else {
		logger.InitLevel(cfg.AppEnv, cfg.LogLevel)
	}
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	sessions, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		logger.Fatal("session store init failed", logger.FieldError, err)
	}
	defer closeStore()

	local := files.NewLocalStore(cfg.FileDBDir, "/api/files")
	var lister files.Lister = local
	if cfg.FileServiceURL != "" {
		lister = files.NewRemoteLister(cfg.FileServiceURL, cfg.AgentConnectTimeout)
	}
	fileCache := files.NewCachedLister(lister, cfg.FileListCacheTTL)

	msgBus := bus.NewMessageBus()
	syncer := session.NewSynchronizer(sessions, cfg.SessionSyncTimeout)
	ctrl := conversation.New(conversation.Options{
		Streams:        stream.NewClient(newTransport(cfg), stream.WithIdleTimeout(cfg.AgentIdleTimeout)),
		Sync:           syncer,
		Sessions:       sessions,
		Files:          fileCache,
		Bus:            msgBus,
		SummaryTypes:   uistate.NewTypeSet(cfg.SummaryMessageTypes...),
		RestoreTimeout: cfg.SessionSyncTimeout,
	})

	srv := dashboard.NewServer(dashboard.Deps{
		Controller:   ctrl,
		Sessions:     sessions,
		Sync:         syncer,
		Files:        fileCache,
		LocalFiles:   local,
		FileCache:    fileCache,
		Bus:          msgBus,
		SSEKeepalive: cfg.SSEKeepalive,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dashboard starting",
			logger.FieldAddr, cfg.ListenAddr,
			logger.FieldTransport, cfg.AgentTransport,
			"store", cfg.SessionStoreBackend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// 先停推送连接, 再取消流并等待会话同步落盘
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", logger.FieldError, err)
		}
		if err := ctrl.Close(shutdownCtx); err != nil {
			logger.Warn("session sync did not drain", logger.FieldError, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", logger.FieldError, err)
	}
}

// newTransport 按配置选择 SSE 或 WebSocket 传输。
func newTransport(cfg *config.Config) stream.Transport {
	url := strings.TrimRight(cfg.AgentBaseURL, "/") + cfg.AgentStreamPath
	if cfg.AgentTransport == config.TransportWebSocket {
		return stream.NewWSTransport(toWebSocketURL(url), cfg.AgentConnectTimeout, cfg.AgentIdleTimeout)
	}
	return stream.NewSSETransport(url, cfg.AgentConnectTimeout)
}

func toWebSocketURL(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// openSessionStore 按 SESSION_STORE_BACKEND 打开会话存储。返回的 close 总是非 nil。
func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.SessionStoreBackend {
	case config.StoreBackendPostgres:
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, func() {}, err
		}
		if err := database.Migrate(ctx, pool, database.MigrationSource(cfg.MigrationsDir)); err != nil {
			pool.Close()
			return nil, func() {}, err
		}
		return store.NewChatSessionStore(pool, cfg.SessionTitleMaxLen), pool.Close, nil
	case config.StoreBackendRemote:
		return session.NewRemoteStore(cfg.SessionServiceURL, cfg.SessionSyncTimeout), func() {}, nil
	default:
		return store.NewMemoryChatSessionStore(cfg.SessionTitleMaxLen), func() {}, nil
	}
}
