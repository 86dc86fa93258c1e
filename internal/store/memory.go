// memory.go: 内存会话存储 (开发 / 测试 / 无数据库部署)。
package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

// MemoryChatSessionStore 与 ChatSessionStore 语义一致的内存实现。
// 数据以 JSON 字节保存, 读写双方不共享内存。
type MemoryChatSessionStore struct {
	mu          sync.RWMutex
	records     map[string]*memoryRecord
	seq         uint64
	titleMaxLen int
	now         func() time.Time
}

type memoryRecord struct {
	seq       uint64
	sessionID string
	title     string
	data      []byte
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryChatSessionStore 创建内存存储。
func NewMemoryChatSessionStore(titleMaxLen int) *MemoryChatSessionStore {
	return &MemoryChatSessionStore{
		records:     make(map[string]*memoryRecord),
		titleMaxLen: titleMaxLen,
		now:         time.Now,
	}
}

// Create 插入新会话; reqId 已存在返回 ErrConflict。
func (s *MemoryChatSessionStore) Create(_ context.Context, reqID string, data ChatSessionData) error {
	const op = "MemoryChatSessionStore.Create"
	if err := validateReqID(op, reqID); err != nil {
		return err
	}
	title := DeriveTitle(data, s.titleMaxLen)
	data.ChatTitle = title
	raw, err := json.Marshal(data)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal chat session data")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[reqID]; ok {
		return apperrors.Wrapf(apperrors.ErrConflict, op, "chat session %s already exists", reqID)
	}
	s.seq++
	now := s.now()
	s.records[reqID] = &memoryRecord{
		seq:       s.seq,
		sessionID: data.SessionID,
		title:     title,
		data:      raw,
		createdAt: now,
		updatedAt: now,
	}
	return nil
}

// Update 整体覆盖会话数据; 已设置的标题保持不变。
func (s *MemoryChatSessionStore) Update(_ context.Context, reqID string, data ChatSessionData) error {
	const op = "MemoryChatSessionStore.Update"
	if err := validateReqID(op, reqID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[reqID]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, op, "chat session %s not found", reqID)
	}
	if rec.title == "" {
		rec.title = DeriveTitle(data, s.titleMaxLen)
	}
	data.ChatTitle = rec.title
	raw, err := json.Marshal(data)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal chat session data")
	}
	rec.data = raw
	if data.SessionID != "" {
		rec.sessionID = data.SessionID
	}
	rec.updatedAt = s.now()
	return nil
}

// Get 按 reqId 读取。
func (s *MemoryChatSessionStore) Get(_ context.Context, reqID string) (*ChatSession, error) {
	const op = "MemoryChatSessionStore.Get"
	if err := validateReqID(op, reqID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rec, ok := s.records[reqID]
	var row chatSessionRow
	if ok {
		row = rec.row(reqID)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, op, "chat session %s not found", reqID)
	}
	return row.toSession(op)
}

func (r *memoryRecord) row(reqID string) chatSessionRow {
	return chatSessionRow{
		ReqID:     reqID,
		SessionID: r.sessionID,
		Title:     r.title,
		Data:      append([]byte(nil), r.data...),
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
}

// List 按创建时间倒序分页。
func (s *MemoryChatSessionStore) List(_ context.Context, q ListQuery) (ListResult, error) {
	limit, offset := NormalizePage(q.Limit, q.Offset)
	keyword := strings.ToLower(strings.TrimSpace(q.Keyword))

	type entry struct {
		reqID string
		rec   *memoryRecord
		data  ChatSessionData
	}
	s.mu.RLock()
	matched := make([]entry, 0, len(s.records))
	for reqID, rec := range s.records {
		if q.SessionID != "" && rec.sessionID != q.SessionID {
			continue
		}
		var data ChatSessionData
		_ = json.Unmarshal(rec.data, &data)
		if keyword != "" && !strings.Contains(strings.ToLower(rec.title+"\n"+firstQuery(data)), keyword) {
			continue
		}
		cp := *rec
		matched = append(matched, entry{reqID: reqID, rec: &cp, data: data})
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].rec, matched[j].rec
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.After(b.createdAt)
		}
		return a.seq > b.seq
	})

	out := ListResult{Sessions: []ChatSessionSummary{}, Total: len(matched)}
	for i := offset; i < len(matched) && len(out.Sessions) < limit; i++ {
		e := matched[i]
		out.Sessions = append(out.Sessions, ChatSessionSummary{
			ReqID:     e.reqID,
			SessionID: e.rec.sessionID,
			ChatTitle: DisplayTitle(e.rec.title, firstQuery(e.data)),
			TurnCount: len(e.data.ChatList),
			CreatedAt: e.rec.createdAt,
			UpdatedAt: e.rec.updatedAt,
		})
	}
	return out, nil
}

func firstQuery(data ChatSessionData) string {
	if len(data.ChatList) == 0 {
		return ""
	}
	return data.ChatList[0].Query
}

// Delete 删除会话。
func (s *MemoryChatSessionStore) Delete(_ context.Context, reqID string) error {
	const op = "MemoryChatSessionStore.Delete"
	if err := validateReqID(op, reqID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[reqID]; !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, op, "chat session %s not found", reqID)
	}
	delete(s.records, reqID)
	return nil
}
