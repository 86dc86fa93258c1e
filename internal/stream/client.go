// client.go: 流生命周期: 连接、按序回调、空闲超时、取消。
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/multi-agent/agent-console/pkg/errors"
	"github.com/multi-agent/agent-console/pkg/logger"
	"github.com/multi-agent/agent-console/pkg/util"
)

const defaultIdleTimeout = 2 * time.Minute

// ModeFlags 查询模式开关。
type ModeFlags struct {
	DeepThink   bool   `json:"deepThink"`
	OutputStyle string `json:"outputStyle,omitempty"`
}

// Request 打开一条流所需的请求体。
type Request struct {
	SessionID        string    `json:"sessionId"`
	TurnSubmissionID string    `json:"turnSubmissionId"`
	Query            string    `json:"query"`
	ModeFlags        ModeFlags `json:"modeFlags"`
}

// Handler 流回调。三者在同一 goroutine 上顺序执行; nil 回调被跳过。
type Handler struct {
	OnMessage func(Frame)
	OnError   func(error)
	OnClose   func()
}

// FrameReader 逐帧读取原始数据。流正常结束时返回 io.EOF。
type FrameReader interface {
	Next() ([]byte, error)
	Close() error
}

// Transport 建立底层连接。实现需保证 Close 能解除阻塞中的 Next。
type Transport interface {
	Name() string
	Connect(ctx context.Context, req Request) (FrameReader, error)
}

// Client 流式客户端。
type Client struct {
	transport   Transport
	idleTimeout time.Duration
}

// Option Client 配置项。
type Option func(*Client)

// WithIdleTimeout 设置空闲超时 (心跳也会刷新)。<=0 关闭空闲检测。
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

// NewClient 创建客户端。
func NewClient(t Transport, opts ...Option) *Client {
	c := &Client{transport: t, idleTimeout: defaultIdleTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream 一条逻辑流。
type Stream struct {
	id        string
	transport string
	ctx       context.Context
	cancel    context.CancelCauseFunc
	cancelled atomic.Bool
	frames    atomic.Uint64
	done      chan struct{}

	// deliverMu 把 "检查 cancelled" 与 "执行回调" 合成一步。
	deliverMu sync.Mutex
	deliverG  atomic.Uint64 // 投递 goroutine ID, 回调内 Cancel 据此跳过等待
}

// ID 流标识 (仅用于日志)。
func (s *Stream) ID() string { return s.id }

// Frames 已投递帧数 (含心跳)。
func (s *Stream) Frames() uint64 { return s.frames.Load() }

// Done 流结束 (回调全部完成) 时关闭。
func (s *Stream) Done() <-chan struct{} { return s.done }

// Cancel 取消流。返回后不会再开始新的回调; 可在回调内调用。
func (s *Stream) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.cancel(context.Canceled)
	}
	// 回调内调用时不等待 (持锁的正是当前 goroutine)
	if g := s.deliverG.Load(); g != 0 && g == curGoroutineID() {
		return
	}
	// 屏障: 等待已通过取消检查的回调结束
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

// deliver 未取消时执行 fn。返回 false 表示流已取消, fn 未执行。
func (s *Stream) deliver(fn func()) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.cancelled.Load() {
		return false
	}
	fn()
	return true
}

// Open 打开一条流并立即返回; 连接与读取在后台 goroutine 中进行。
// 仅请求非法时返回错误, 连接失败通过 OnError 回调上报。
func (c *Client) Open(ctx context.Context, req Request, h Handler) (*Stream, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Client.Open", "query is required")
	}
	if c.transport == nil {
		return nil, apperrors.New("Client.Open", "transport is nil")
	}
	sctx, cancel := context.WithCancelCause(ctx)
	s := &Stream{
		id:        uuid.NewString(),
		transport: c.transport.Name(),
		ctx:       sctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	util.SafeGoNamed("stream", func() { c.run(s, req, h) })
	return s, nil
}

func (c *Client) run(s *Stream, req Request, h Handler) {
	s.deliverG.Store(curGoroutineID())
	defer close(s.done)
	defer s.cancel(nil)

	log := logger.With(
		logger.FieldComponent, "stream",
		logger.FieldTransport, s.transport,
		logger.FieldSubmissionID, req.TurnSubmissionID,
	)
	started := time.Now()

	reader, err := c.transport.Connect(s.ctx, req)
	if err != nil {
		c.finishWithError(s, h, log, apperrors.WithCode(err, "Client.Open", apperrors.CodeTransport, "connect stream"))
		return
	}
	defer reader.Close()

	// ctx 结束 (取消/超时) 时关闭 reader, 解除 Next 阻塞。
	stop := context.AfterFunc(s.ctx, func() { _ = reader.Close() })
	defer stop()

	idle := c.startIdleTimer(s)
	defer idle.Stop()

	log.Debug("stream: connected")
	for {
		raw, err := reader.Next()
		if err != nil {
			if cause := context.Cause(s.ctx); errors.Is(cause, apperrors.ErrTimeout) {
				err = apperrors.WithCode(cause, "Client.read", apperrors.CodeTransport, "stream idle timeout")
				c.finishWithError(s, h, log, err)
				return
			}
			if errors.Is(err, io.EOF) {
				log.Debug("stream: closed",
					logger.FieldCount, s.Frames(),
					logger.FieldDurationMS, time.Since(started).Milliseconds())
				if h.OnClose != nil {
					s.deliver(h.OnClose)
				}
				return
			}
			c.finishWithError(s, h, log, apperrors.WithCode(err, "Client.read", apperrors.CodeTransport, "read frame"))
			return
		}
		idle.Reset(c.idleTimeout)

		frame, derr := DecodeFrame(raw)
		if derr != nil {
			log.Warn("stream: skip undecodable frame", logger.FieldError, derr, "bytes", len(raw))
			continue
		}
		if s.cancelled.Load() {
			return
		}
		frame.Seq = s.frames.Add(1)
		frame.ReceivedAt = time.Now()
		if frame.IsTerminal() {
			log.Debug("stream: terminal frame",
				logger.FieldPackageType, string(frame.PackageType),
				logger.FieldFinished, frame.Finished,
				logger.FieldTurnID, frame.ReqID,
				logger.FieldStatus, string(frame.Status),
				logger.FieldSeq, frame.Seq)
		}
		if h.OnMessage == nil {
			continue
		}
		if !s.deliver(func() { h.OnMessage(frame) }) {
			return
		}
	}
}

func (c *Client) finishWithError(s *Stream, h Handler, log *slog.Logger, err error) {
	if s.cancelled.Load() {
		return
	}
	log.Warn("stream: failed", logger.FieldError, err, logger.FieldCount, s.Frames())
	if h.OnError != nil {
		s.deliver(func() { h.OnError(err) })
	}
}

// idleTimer 对 time.Timer 的薄包装, idleTimeout<=0 时为空操作。
type idleTimer struct{ t *time.Timer }

func (i idleTimer) Reset(d time.Duration) {
	if i.t != nil {
		i.t.Reset(d)
	}
}

func (i idleTimer) Stop() {
	if i.t != nil {
		i.t.Stop()
	}
}

func (c *Client) startIdleTimer(s *Stream) idleTimer {
	if c.idleTimeout <= 0 {
		return idleTimer{}
	}
	return idleTimer{t: time.AfterFunc(c.idleTimeout, func() {
		s.cancel(apperrors.ErrTimeout)
	})}
}
