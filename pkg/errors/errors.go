// Package errors 提供统一错误类型与哨兵错误。
//
//   - L1 哨兵错误: ErrNotFound / ErrConflict / ErrInvalidInput / ErrTimeout 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrConflict 资源已存在 (会话重复创建)
	ErrConflict = errors.New("already exists")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrClosed 流或连接已关闭
	ErrClosed = errors.New("closed")
)

// 错误码常量, 供 HTTP 层映射状态码。
const (
	CodeNotFound  = "not_found"
	CodeConflict  = "conflict"
	CodeInvalid   = "invalid_request"
	CodeTransport = "transport_error"
	CodeStore     = "store_error"
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "ChatSessionStore.Create"
	Code    string // 错误码，如 "conflict"、"store_error"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode 包装错误并附加错误码。
func WithCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// CodeOf 返回错误链上第一个非空错误码; 哨兵错误按类别推导。
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	for e := err; errors.As(e, &appErr); e = appErr.Err {
		if appErr.Code != "" {
			return appErr.Code
		}
		if appErr.Err == nil {
			break
		}
	}
	switch {
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalid
	}
	return ""
}

// IsConflict 判断是否为"已存在"冲突。
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound 判断是否为"不存在"。
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput 判断是否为输入无效。
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
