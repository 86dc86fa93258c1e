// synchronizer.go: 每个 reqId 的 create-once / 可重复 update 状态机。
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/multi-agent/agent-console/internal/store"
	"github.com/multi-agent/agent-console/internal/stream"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
	"github.com/multi-agent/agent-console/pkg/logger"
	"github.com/multi-agent/agent-console/pkg/util"
)

const defaultSyncTimeout = 15 * time.Second

// State 单个 reqId 的同步状态。
//
//	unsaved → saving → saved
//	saved → updating → saved
//	saving → failed (非冲突的 create 失败)
type State string

const (
	StateUnsaved  State = "unsaved"
	StateSaving   State = "saving"
	StateSaved    State = "saved"
	StateUpdating State = "updating"
	StateFailed   State = "failed"
)

// Stats 单个 reqId 的调用计数。
type Stats struct {
	State   State  `json:"state"`
	Creates int    `json:"creates"`
	Updates int    `json:"updates"`
	Skipped int    `json:"skipped"` // 被更新版本取代的 update
	LastErr string `json:"lastError,omitempty"`
}

type syncEntry struct {
	state   State
	created chan struct{} // create 结束 (成功/冲突/失败) 时关闭

	// update 串行化: 只有最新序号的 update 会真正写入。
	updateMu  sync.Mutex
	latestSeq uint64

	creates int
	updates int
	skipped int
	lastErr string
}

// Synchronizer 会话同步器。并发安全; 所有网络调用在独立 goroutine 中执行。
type Synchronizer struct {
	store   Store
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*syncEntry
	wg      sync.WaitGroup
}

// NewSynchronizer 创建同步器。timeout 约束单次 create/update 调用。
func NewSynchronizer(s Store, timeout time.Duration) *Synchronizer {
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}
	return &Synchronizer{store: s, timeout: timeout, entries: make(map[string]*syncEntry)}
}

// Observe 按帧驱动同步: 首个携带 reqId 的数据帧触发一次 create;
// 携带 responseAll 的终结帧触发 update。data 必须是调用方持有的独立副本。
func (s *Synchronizer) Observe(turnID string, f stream.Frame, data store.ChatSessionData) {
	turnID = strings.TrimSpace(turnID)
	if turnID == "" || f.IsHeartbeat() {
		return
	}
	s.BeginCreate(turnID, data)
	if f.HasFullResponse() {
		s.ScheduleUpdate(turnID, data)
	}
}

// BeginCreate 若 reqId 处于 unsaved, 同步标记为 saving 并异步 create。
// 检查与标记在同一临界区内完成, 并发调用只有一个返回 true。
func (s *Synchronizer) BeginCreate(turnID string, data store.ChatSessionData) bool {
	s.mu.Lock()
	e := s.entryLocked(turnID)
	started := s.beginCreateLocked(turnID, e, data)
	s.mu.Unlock()
	return started
}

func (s *Synchronizer) entryLocked(turnID string) *syncEntry {
	e, ok := s.entries[turnID]
	if !ok {
		e = &syncEntry{state: StateUnsaved, created: make(chan struct{})}
		s.entries[turnID] = e
	}
	return e
}

func (s *Synchronizer) beginCreateLocked(turnID string, e *syncEntry, data store.ChatSessionData) bool {
	if e.state != StateUnsaved {
		return false
	}
	e.state = StateSaving
	e.creates++
	s.wg.Add(1)
	util.SafeGoNamed("session-create", func() {
		defer s.wg.Done()
		s.runCreate(turnID, e, data)
	})
	return true
}

func (s *Synchronizer) runCreate(turnID string, e *syncEntry, data store.ChatSessionData) {
	defer close(e.created)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	started := time.Now()
	err := s.store.Create(ctx, turnID, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		e.state = StateSaved
		logger.Info("session: created",
			logger.FieldTurnID, turnID,
			logger.FieldSessionID, data.SessionID,
			logger.FieldDurationMS, time.Since(started).Milliseconds())
	case apperrors.IsConflict(err):
		// 已存在视为已保存
		e.state = StateSaved
		logger.Info("session: create conflict ignored", logger.FieldTurnID, turnID)
	default:
		e.state = StateFailed
		e.lastErr = err.Error()
		logger.Warn("session: create failed", logger.FieldTurnID, turnID, logger.FieldError, err)
	}
}

// ScheduleUpdate 异步整体覆盖写入; 若 create 尚未发起则先发起, update 等待 create 结束。
// 同一 reqId 的多次 update 串行执行, 排队期间被更新版本取代的会被跳过。
func (s *Synchronizer) ScheduleUpdate(turnID string, data store.ChatSessionData) {
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return
	}
	s.mu.Lock()
	e := s.entryLocked(turnID)
	s.beginCreateLocked(turnID, e, data)
	e.latestSeq++
	seq := e.latestSeq
	s.wg.Add(1)
	s.mu.Unlock()

	util.SafeGoNamed("session-update", func() {
		defer s.wg.Done()
		s.runUpdate(turnID, e, seq, data)
	})
}

func (s *Synchronizer) runUpdate(turnID string, e *syncEntry, seq uint64, data store.ChatSessionData) {
	select {
	case <-e.created:
	case <-time.After(s.timeout):
		logger.Warn("session: update gave up waiting for create", logger.FieldTurnID, turnID)
		return
	}

	e.updateMu.Lock()
	defer e.updateMu.Unlock()

	s.mu.Lock()
	if seq < e.latestSeq {
		e.skipped++
		s.mu.Unlock()
		logger.Debug("session: stale update skipped", logger.FieldTurnID, turnID, logger.FieldSeq, seq)
		return
	}
	prev := e.state
	if prev == StateSaved {
		e.state = StateUpdating
	}
	e.updates++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.store.Update(ctx, turnID, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		e.lastErr = err.Error()
		if e.state == StateUpdating {
			e.state = StateSaved
		}
		logger.Warn("session: update failed",
			logger.FieldTurnID, turnID,
			logger.FieldState, string(prev),
			logger.FieldError, err)
		return
	}
	if e.state == StateUpdating || e.state == StateFailed {
		e.state = StateSaved
	}
	logger.Info("session: updated", logger.FieldTurnID, turnID, logger.FieldCount, len(data.ChatList))
}

// State 返回 reqId 当前状态; 未知 reqId 为 unsaved。
func (s *Synchronizer) State(turnID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[turnID]; ok {
		return e.state
	}
	return StateUnsaved
}

// Stats 返回 reqId 的调用计数。
func (s *Synchronizer) Stats(turnID string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[turnID]
	if !ok {
		return Stats{State: StateUnsaved}
	}
	return Stats{State: e.state, Creates: e.creates, Updates: e.updates, Skipped: e.skipped, LastErr: e.lastErr}
}

// MarkSaved 将已存在于存储中的 reqId (如历史恢复) 标记为 saved, 不再触发 create。
func (s *Synchronizer) MarkSaved(turnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(turnID)
	if e.state == StateUnsaved {
		e.state = StateSaved
		close(e.created)
	}
}

// Forget 删除 reqId 的同步记录 (会话删除后调用)。进行中的调用不受影响。
func (s *Synchronizer) Forget(turnID string) {
	s.mu.Lock()
	delete(s.entries, turnID)
	s.mu.Unlock()
}

// Wait 等待所有进行中的 create/update 结束, 或 ctx 结束。
func (s *Synchronizer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	util.SafeGo(func() {
		s.wg.Wait()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), "Synchronizer.Wait", "pending session operations")
	}
}
