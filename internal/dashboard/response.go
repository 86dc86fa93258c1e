package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/multi-agent/agent-console/pkg/errors"
	"github.com/multi-agent/agent-console/pkg/logger"
)

// 统一响应辅助 (所有 handler 共用)。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "not_found", "message": message}})
}

func conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, gin.H{"success": false, "error": gin.H{"code": "conflict", "message": message}})
}

func serverError(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Error("internal error", logger.Any(logger.FieldError, err))
	code := apperrors.CodeOf(err)
	if code == "" {
		code = "internal_error"
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": code, "message": "服务器内部错误"}})
}

// respondError 按错误哨兵映射状态码。
func respondError(c *gin.Context, err error) {
	switch {
	case apperrors.IsNotFound(err):
		notFound(c, err.Error())
	case apperrors.IsConflict(err):
		conflict(c, err.Error())
	case apperrors.IsInvalidInput(err):
		badRequest(c, apperrors.CodeInvalid, err.Error())
	default:
		serverError(c, err)
	}
}

// detail 会话存储 API 的错误体 (与会话服务一致: {"detail": ...})。
func detail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"detail": message})
}
