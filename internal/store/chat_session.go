// chat_session.go: 会话记录 (chat_sessions 表) 的模型与 PostgreSQL 实现。
package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/agent-console/internal/uistate"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
	"github.com/multi-agent/agent-console/pkg/logger"
	"github.com/multi-agent/agent-console/pkg/util"
)

// UntitledSession 无标题且无首个查询时的列表展示名。
const UntitledSession = "未命名对话"

// pgUniqueViolation unique 约束冲突 SQLSTATE。
const pgUniqueViolation = "23505"

// ChatSessionData 会话数据 (按 reqId 整体覆盖写入)。
type ChatSessionData struct {
	SessionID string         `json:"sessionId"`
	ChatTitle string         `json:"chatTitle,omitempty"`
	ChatList  []uistate.Turn `json:"chatList"`
}

// ChatSession 一条持久化会话记录。
type ChatSession struct {
	ReqID     string          `json:"reqId"`
	SessionID string          `json:"sessionId"`
	Title     string          `json:"chatTitle"`
	Data      ChatSessionData `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ChatSessionSummary 列表项。
type ChatSessionSummary struct {
	ReqID     string    `json:"reqId"`
	SessionID string    `json:"sessionId,omitempty"`
	ChatTitle string    `json:"chatTitle"`
	TurnCount int       `json:"turnCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListQuery 列表查询参数。
type ListQuery struct {
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	Keyword   string `json:"keyword,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ListResult 列表结果。
type ListResult struct {
	Sessions []ChatSessionSummary `json:"sessions"`
	Total    int                  `json:"total"`
}

// DeriveTitle 会话标题: chatTitle 优先, 否则首个查询; 按 rune 截断。无可用文本返回空串。
func DeriveTitle(data ChatSessionData, maxLen int) string {
	first := ""
	if len(data.ChatList) > 0 {
		first = data.ChatList[0].Query
	}
	return util.TruncateRunes(util.FirstNonEmpty(data.ChatTitle, first), maxLen)
}

// DisplayTitle 列表展示标题, 带默认值。
func DisplayTitle(title, firstQuery string) string {
	return util.FirstNonEmpty(title, firstQuery, UntitledSession)
}

func validateReqID(op, reqID string) error {
	if strings.TrimSpace(reqID) == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "reqId is required")
	}
	return nil
}

// ========================================
// PostgreSQL 实现
// ========================================

// ChatSessionStore chat_sessions 表访问。
type ChatSessionStore struct {
	BaseStore
	titleMaxLen int
}

// NewChatSessionStore 创建 pg 会话存储。
func NewChatSessionStore(pool *pgxpool.Pool, titleMaxLen int) *ChatSessionStore {
	return &ChatSessionStore{BaseStore: NewBaseStore(pool), titleMaxLen: titleMaxLen}
}

type chatSessionRow struct {
	ReqID     string    `db:"req_id"`
	SessionID string    `db:"session_id"`
	Title     string    `db:"title"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type chatSessionSummaryRow struct {
	ReqID      string    `db:"req_id"`
	SessionID  string    `db:"session_id"`
	Title      string    `db:"title"`
	FirstQuery string    `db:"first_query"`
	TurnCount  int       `db:"turn_count"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Create 插入新会话; reqId 已存在返回 ErrConflict。
func (s *ChatSessionStore) Create(ctx context.Context, reqID string, data ChatSessionData) error {
	const op = "ChatSessionStore.Create"
	if err := validateReqID(op, reqID); err != nil {
		return err
	}
	title := DeriveTitle(data, s.titleMaxLen)
	data.ChatTitle = title
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_sessions (req_id, session_id, title, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`, reqID, data.SessionID, title, mustMarshalJSON(data))
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperrors.Wrapf(apperrors.ErrConflict, op, "chat session %s already exists", reqID)
		}
		return apperrors.WithCode(err, op, apperrors.CodeStore, "insert chat session")
	}
	logger.Info("store: chat session created", logger.FieldTurnID, reqID, logger.FieldSessionID, data.SessionID)
	return nil
}

// Update 整体覆盖会话数据; 已设置的标题保持不变。不存在返回 ErrNotFound。
func (s *ChatSessionStore) Update(ctx context.Context, reqID string, data ChatSessionData) error {
	const op = "ChatSessionStore.Update"
	if err := validateReqID(op, reqID); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperrors.WithCode(err, op, apperrors.CodeStore, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var title string
	err = tx.QueryRow(ctx, `SELECT title FROM chat_sessions WHERE req_id = $1 FOR UPDATE`, reqID).Scan(&title)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return apperrors.Wrapf(apperrors.ErrNotFound, op, "chat session %s not found", reqID)
		}
		return apperrors.WithCode(err, op, apperrors.CodeStore, "lock chat session")
	}
	if title == "" {
		title = DeriveTitle(data, s.titleMaxLen)
	}
	data.ChatTitle = title
	if _, err := tx.Exec(ctx, `
		UPDATE chat_sessions
		SET title = $2, session_id = COALESCE(NULLIF($3, ''), session_id), data = $4, updated_at = NOW()
		WHERE req_id = $1
	`, reqID, title, data.SessionID, mustMarshalJSON(data)); err != nil {
		return apperrors.WithCode(err, op, apperrors.CodeStore, "update chat session")
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.WithCode(err, op, apperrors.CodeStore, "commit")
	}
	return nil
}

// Get 按 reqId 读取; 不存在返回 ErrNotFound。
func (s *ChatSessionStore) Get(ctx context.Context, reqID string) (*ChatSession, error) {
	const op = "ChatSessionStore.Get"
	if err := validateReqID(op, reqID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT req_id, session_id, title, data, created_at, updated_at
		FROM chat_sessions WHERE req_id = $1
	`, reqID)
	if err != nil {
		return nil, apperrors.WithCode(err, op, apperrors.CodeStore, "query chat session")
	}
	row, err := collectOne[chatSessionRow](rows)
	if err != nil {
		return nil, apperrors.WithCode(err, op, apperrors.CodeStore, "scan chat session")
	}
	if row == nil {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, op, "chat session %s not found", reqID)
	}
	return row.toSession(op)
}

func (r chatSessionRow) toSession(op string) (*ChatSession, error) {
	var data ChatSessionData
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return nil, apperrors.WithCode(err, op, apperrors.CodeStore, "decode chat session data")
		}
	}
	if r.Title != "" {
		data.ChatTitle = r.Title
	}
	if data.SessionID == "" {
		data.SessionID = r.SessionID
	}
	return &ChatSession{
		ReqID:     r.ReqID,
		SessionID: r.SessionID,
		Title:     r.Title,
		Data:      data,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// List 按创建时间倒序分页; Total 为过滤后的总数。
func (s *ChatSessionStore) List(ctx context.Context, q ListQuery) (ListResult, error) {
	const op = "ChatSessionStore.List"
	qb := NewQueryBuilder().
		Eq("session_id", q.SessionID).
		KeywordLike(q.Keyword, "title", "COALESCE(data->'chatList'->0->>'query', '')")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM chat_sessions"+qb.WhereClause(), qb.Params()...).Scan(&total); err != nil {
		return ListResult{}, apperrors.WithCode(err, op, apperrors.CodeStore, "count chat sessions")
	}

	sql, params := qb.BuildPage(`
		SELECT req_id, session_id, title,
			COALESCE(data->'chatList'->0->>'query', '') AS first_query,
			COALESCE(jsonb_array_length(CASE WHEN jsonb_typeof(data->'chatList') = 'array' THEN data->'chatList' END), 0) AS turn_count,
			created_at, updated_at
		FROM chat_sessions`, "created_at DESC, id DESC", q.Limit, q.Offset)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return ListResult{}, apperrors.WithCode(err, op, apperrors.CodeStore, "list chat sessions")
	}
	items, err := collectRows[chatSessionSummaryRow](rows)
	if err != nil {
		return ListResult{}, apperrors.WithCode(err, op, apperrors.CodeStore, "scan chat sessions")
	}

	out := ListResult{Sessions: make([]ChatSessionSummary, 0, len(items)), Total: total}
	for _, r := range items {
		out.Sessions = append(out.Sessions, ChatSessionSummary{
			ReqID:     r.ReqID,
			SessionID: r.SessionID,
			ChatTitle: DisplayTitle(r.Title, r.FirstQuery),
			TurnCount: r.TurnCount,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

// Delete 删除会话; 不存在返回 ErrNotFound。
func (s *ChatSessionStore) Delete(ctx context.Context, reqID string) error {
	const op = "ChatSessionStore.Delete"
	if err := validateReqID(op, reqID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE req_id = $1`, reqID)
	if err != nil {
		return apperrors.WithCode(err, op, apperrors.CodeStore, "delete chat session")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrapf(apperrors.ErrNotFound, op, "chat session %s not found", reqID)
	}
	logger.Info("store: chat session deleted", logger.FieldTurnID, reqID)
	return nil
}
