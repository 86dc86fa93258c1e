// cache.go: 文件列表 TTL 缓存 + 并发请求合并。
package files

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/multi-agent/agent-console/pkg/logger"
)

// listTimeout 单次下游列表调用的上限。
const listTimeout = 15 * time.Second

// CachedLister 包装任意 Lister: 命中缓存直接返回, 同一 reqId 的并发请求只调用一次下游。
type CachedLister struct {
	next  Lister
	cache *cache.Cache
	group singleflight.Group
}

// NewCachedLister 创建缓存列表。ttl<=0 时不缓存, 仅合并并发请求。
func NewCachedLister(next Lister, ttl time.Duration) *CachedLister {
	c := &CachedLister{next: next}
	if ttl > 0 {
		c.cache = cache.New(ttl, 2*ttl)
	}
	return c
}

// List 实现 Lister。返回的切片为副本。
func (c *CachedLister) List(ctx context.Context, turnID string) ([]File, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(turnID); ok {
			return cloneFiles(v.([]File)), nil
		}
	}
	// 下游调用被所有等待者共享, 不随首个调用方取消
	ch := c.group.DoChan(turnID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listTimeout)
		defer cancel()
		list, err := c.next.List(lctx, turnID)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.Set(turnID, list, cache.DefaultExpiration)
		}
		return list, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Debug("files: shared list call", logger.FieldTurnID, turnID)
		}
		return cloneFiles(res.Val.([]File)), nil
	}
}

// Invalidate 删除缓存项 (会话删除后调用)。
func (c *CachedLister) Invalidate(turnID string) {
	if c.cache != nil {
		c.cache.Delete(turnID)
	}
}

func cloneFiles(src []File) []File {
	out := make([]File, len(src))
	copy(out, src)
	return out
}
