// Package session 负责轮次状态与持久会话记录之间的同步。
//
// 每个 reqId 恰好一次 create, 之后只做整体覆盖的 update。
// 持久层失败只记录日志, 不影响本地渲染: 实时视图的事实来源是本地轮次状态。
package session

import (
	"context"

	"github.com/multi-agent/agent-console/internal/store"
)

// Store 会话存储协作方。pg / 内存 / 远程 HTTP 三种实现。
//
// Create 在 reqId 已存在时返回 ErrConflict;
// Update / Get / Delete 在不存在时返回 ErrNotFound。
type Store interface {
	Create(ctx context.Context, reqID string, data store.ChatSessionData) error
	Update(ctx context.Context, reqID string, data store.ChatSessionData) error
	Get(ctx context.Context, reqID string) (*store.ChatSession, error)
	List(ctx context.Context, q store.ListQuery) (store.ListResult, error)
	Delete(ctx context.Context, reqID string) error
}

var (
	_ Store = (*store.ChatSessionStore)(nil)
	_ Store = (*store.MemoryChatSessionStore)(nil)
	_ Store = (*RemoteStore)(nil)
)
