// remote.go: 远程会话服务客户端: POST {base}/create|update|get|list|delete。
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/multi-agent/agent-console/internal/store"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
	"github.com/multi-agent/agent-console/pkg/util"
)

// RemoteStore 通过 HTTP 访问会话服务。409 映射为 ErrConflict, 404 映射为 ErrNotFound。
type RemoteStore struct {
	baseURL string
	client  *http.Client
}

// NewRemoteStore 创建远程存储客户端。
func NewRemoteStore(baseURL string, timeout time.Duration) *RemoteStore {
	return &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type reqIDBody struct {
	ReqID string                 `json:"reqId"`
	Data  *store.ChatSessionData `json:"data,omitempty"`
}

// envelope 会话服务统一响应; FastAPI 风格错误使用 detail 字段。
type envelope struct {
	Success  bool                       `json:"success"`
	Message  string                     `json:"message"`
	Detail   string                     `json:"detail"`
	Data     json.RawMessage            `json:"data"`
	Sessions []store.ChatSessionSummary `json:"sessions"`
	Total    int                        `json:"total"`
}

func (e envelope) text() string {
	return util.FirstNonEmpty(e.Message, e.Detail)
}

func (s *RemoteStore) call(ctx context.Context, op, path string, body any) (envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return envelope{}, apperrors.Wrap(err, op, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return envelope{}, apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return envelope{}, apperrors.WithCode(err, op, apperrors.CodeTransport, "post "+path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return envelope{}, apperrors.WithCode(err, op, apperrors.CodeTransport, "read response")
	}
	var env envelope
	var decodeErr error
	if len(bytes.TrimSpace(raw)) > 0 {
		decodeErr = json.Unmarshal(raw, &env)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if decodeErr != nil {
			return envelope{}, apperrors.WithCode(decodeErr, op, apperrors.CodeStore, "decode response")
		}
	case http.StatusConflict:
		return env, apperrors.Wrap(apperrors.ErrConflict, op, env.text())
	case http.StatusNotFound:
		return env, apperrors.Wrap(apperrors.ErrNotFound, op, env.text())
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return env, apperrors.Wrap(apperrors.ErrInvalidInput, op, env.text())
	default:
		return env, apperrors.WithCode(
			apperrors.Newf(op, "status %d: %s", resp.StatusCode, env.text()),
			op, apperrors.CodeStore, "session service error")
	}
	return env, nil
}

// Create 实现 Store。
func (s *RemoteStore) Create(ctx context.Context, reqID string, data store.ChatSessionData) error {
	_, err := s.call(ctx, "RemoteStore.Create", "/create", reqIDBody{ReqID: reqID, Data: &data})
	return err
}

// Update 实现 Store。
func (s *RemoteStore) Update(ctx context.Context, reqID string, data store.ChatSessionData) error {
	_, err := s.call(ctx, "RemoteStore.Update", "/update", reqIDBody{ReqID: reqID, Data: &data})
	return err
}

// Get 实现 Store。服务端只返回会话数据, 标题取自 chatTitle。
func (s *RemoteStore) Get(ctx context.Context, reqID string) (*store.ChatSession, error) {
	const op = "RemoteStore.Get"
	env, err := s.call(ctx, op, "/get", reqIDBody{ReqID: reqID})
	if err != nil {
		return nil, err
	}
	var data store.ChatSessionData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, apperrors.Wrap(err, op, "decode session data")
		}
	}
	return &store.ChatSession{
		ReqID:     reqID,
		SessionID: data.SessionID,
		Title:     data.ChatTitle,
		Data:      data,
	}, nil
}

// List 实现 Store。
func (s *RemoteStore) List(ctx context.Context, q store.ListQuery) (store.ListResult, error) {
	limit, offset := store.NormalizePage(q.Limit, q.Offset)
	q.Limit, q.Offset = limit, offset
	env, err := s.call(ctx, "RemoteStore.List", "/list", q)
	if err != nil {
		return store.ListResult{}, err
	}
	sessions := env.Sessions
	if sessions == nil {
		sessions = []store.ChatSessionSummary{}
	}
	return store.ListResult{Sessions: sessions, Total: env.Total}, nil
}

// Delete 实现 Store。会话服务以 success=false 表示不存在。
func (s *RemoteStore) Delete(ctx context.Context, reqID string) error {
	const op = "RemoteStore.Delete"
	env, err := s.call(ctx, op, "/delete", reqIDBody{ReqID: reqID})
	if err != nil {
		return err
	}
	if !env.Success {
		return apperrors.Wrap(apperrors.ErrNotFound, op, env.text())
	}
	return nil
}
