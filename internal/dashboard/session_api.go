// session_api.go: 会话存储 API (/api/chat_session/*), 与会话服务契约一致:
// 请求 {reqId, data} / {limit, offset}; 错误体 {"detail": ...}; 重复创建 409。
package dashboard

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/agent-console/internal/store"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
	"github.com/multi-agent/agent-console/pkg/logger"
)

type chatSessionRequest struct {
	ReqID string                 `json:"reqId"`
	Data  *store.ChatSessionData `json:"data"`
}

func bindChatSession(c *gin.Context, needData bool) (chatSessionRequest, bool) {
	var req chatSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return req, false
	}
	req.ReqID = strings.TrimSpace(req.ReqID)
	if req.ReqID == "" {
		detail(c, http.StatusUnprocessableEntity, "reqId is required")
		return req, false
	}
	if needData && req.Data == nil {
		detail(c, http.StatusUnprocessableEntity, "data is required")
		return req, false
	}
	return req, true
}

func (s *Server) createChatSession(c *gin.Context) {
	req, ok := bindChatSession(c, false)
	if !ok {
		return
	}
	var data store.ChatSessionData
	if req.Data != nil {
		data = *req.Data
	}
	err := s.deps.Sessions.Create(c.Request.Context(), req.ReqID, data)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Chat session created successfully",
			"data":    gin.H{"reqId": req.ReqID},
		})
	case apperrors.IsConflict(err):
		detail(c, http.StatusConflict, fmt.Sprintf("Chat session with req_id %s already exists", req.ReqID))
	default:
		logger.Error("dashboard: create chat session failed", logger.FieldTurnID, req.ReqID, logger.FieldError, err)
		detail(c, http.StatusInternalServerError, "Failed to create chat session: "+err.Error())
	}
}

func (s *Server) updateChatSession(c *gin.Context) {
	req, ok := bindChatSession(c, true)
	if !ok {
		return
	}
	err := s.deps.Sessions.Update(c.Request.Context(), req.ReqID, *req.Data)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat session updated successfully"})
	case apperrors.IsNotFound(err):
		detail(c, http.StatusNotFound, fmt.Sprintf("Chat session with req_id %s not found", req.ReqID))
	default:
		logger.Error("dashboard: update chat session failed", logger.FieldTurnID, req.ReqID, logger.FieldError, err)
		detail(c, http.StatusInternalServerError, "Failed to update chat session: "+err.Error())
	}
}

func (s *Server) getChatSession(c *gin.Context) {
	req, ok := bindChatSession(c, false)
	if !ok {
		return
	}
	rec, err := s.deps.Sessions.Get(c.Request.Context(), req.ReqID)
	switch {
	case err == nil:
		data := rec.Data
		data.ChatTitle = rec.Title
		if data.SessionID == "" {
			data.SessionID = rec.SessionID
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat session retrieved successfully", "data": data})
	case apperrors.IsNotFound(err):
		detail(c, http.StatusNotFound, fmt.Sprintf("Chat session with req_id %s not found", req.ReqID))
	default:
		logger.Error("dashboard: get chat session failed", logger.FieldTurnID, req.ReqID, logger.FieldError, err)
		detail(c, http.StatusInternalServerError, "Failed to get chat session: "+err.Error())
	}
}

func (s *Server) listChatSessions(c *gin.Context) {
	var q store.ListQuery
	// 空 body 视为默认分页
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&q); err != nil {
			detail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	res, err := s.deps.Sessions.List(c.Request.Context(), q)
	if err != nil {
		logger.Error("dashboard: list chat sessions failed", logger.FieldError, err)
		detail(c, http.StatusInternalServerError, "Failed to list chat sessions: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Chat sessions retrieved successfully",
		"sessions": res.Sessions,
		"total":    res.Total,
	})
}

// deleteChatSession 删除记录, 并清理该 reqId 的文件目录、文件列表缓存与同步状态。
// 不存在时返回 200 + success=false。
func (s *Server) deleteChatSession(c *gin.Context) {
	req, ok := bindChatSession(c, false)
	if !ok {
		return
	}
	err := s.deps.Sessions.Delete(c.Request.Context(), req.ReqID)
	switch {
	case err == nil:
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": fmt.Sprintf("Chat session with req_id %s not found", req.ReqID)})
		return
	default:
		logger.Error("dashboard: delete chat session failed", logger.FieldTurnID, req.ReqID, logger.FieldError, err)
		detail(c, http.StatusInternalServerError, "Failed to delete chat session: "+err.Error())
		return
	}

	if s.deps.LocalFiles != nil {
		if err := s.deps.LocalFiles.Remove(req.ReqID); err != nil {
			logger.Warn("dashboard: remove session files failed", logger.FieldTurnID, req.ReqID, logger.FieldError, err)
		}
	}
	if s.deps.FileCache != nil {
		s.deps.FileCache.Invalidate(req.ReqID)
	}
	if s.deps.Sync != nil {
		s.deps.Sync.Forget(req.ReqID)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat session deleted successfully"})
}
