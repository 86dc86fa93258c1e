// chat.go: 会话控制 API: 新会话、提交查询、停止、关闭工作区、历史恢复、当前快照。
package dashboard

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/agent-console/internal/stream"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

func (s *Server) newSession(c *gin.Context) {
	success(c, gin.H{"sessionId": s.deps.Controller.NewSession()})
}

func (s *Server) submitQuery(c *gin.Context) {
	var req struct {
		Query       string `json:"query"`
		DeepThink   bool   `json:"deepThink"`
		OutputStyle string `json:"outputStyle"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, apperrors.CodeInvalid, err.Error())
		return
	}
	sub, err := s.deps.Controller.Submit(c.Request.Context(), req.Query, stream.ModeFlags{
		DeepThink:   req.DeepThink,
		OutputStyle: strings.TrimSpace(req.OutputStyle),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, gin.H{"submissionId": sub, "sessionId": s.deps.Controller.SessionID()})
}

func (s *Server) stopTurn(c *gin.Context) {
	success(c, gin.H{"stopped": s.deps.Controller.Stop()})
}

func (s *Server) closeWorkspace(c *gin.Context) {
	var req struct {
		SubmissionID string `json:"submissionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, apperrors.CodeInvalid, err.Error())
		return
	}
	if err := s.deps.Controller.CloseWorkspace(req.SubmissionID); err != nil {
		respondError(c, err)
		return
	}
	success(c, s.deps.Controller.Snapshot())
}

func (s *Server) restoreTurn(c *gin.Context) {
	var req struct {
		ReqID string `json:"reqId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, apperrors.CodeInvalid, err.Error())
		return
	}
	snap, err := s.deps.Controller.Restore(c.Request.Context(), req.ReqID)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, snap)
}

func (s *Server) currentState(c *gin.Context) {
	success(c, s.deps.Controller.Snapshot())
}

func (s *Server) syncState(c *gin.Context) {
	success(c, s.deps.Sync.Stats(c.Param("reqId")))
}
