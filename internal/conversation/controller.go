// Package conversation 持有当前会话的轮次状态, 把流、合并、门控、同步串起来,
// 每次状态变化都通过 bus 发布一份不可变快照。
//
// 每条流在打开时捕获 generation; 新查询、停止、切换会话、恢复历史都会使 generation 自增,
// 旧流的回调因此被丢弃。
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/multi-agent/agent-console/internal/bus"
	"github.com/multi-agent/agent-console/internal/files"
	"github.com/multi-agent/agent-console/internal/session"
	"github.com/multi-agent/agent-console/internal/store"
	"github.com/multi-agent/agent-console/internal/stream"
	"github.com/multi-agent/agent-console/internal/uistate"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
	"github.com/multi-agent/agent-console/pkg/logger"
)

const defaultRestoreTimeout = 15 * time.Second

// StreamOpener 打开一条流 (stream.Client 实现)。
type StreamOpener interface {
	Open(ctx context.Context, req stream.Request, h stream.Handler) (*stream.Stream, error)
}

// SessionReader 历史恢复时读取会话记录。
type SessionReader interface {
	Get(ctx context.Context, reqID string) (*store.ChatSession, error)
}

// Options 控制器依赖。Files 与 Bus 可为 nil。
type Options struct {
	Streams        StreamOpener
	Sync           *session.Synchronizer
	Sessions       SessionReader
	Files          files.Lister
	Bus            *bus.MessageBus
	SummaryTypes   uistate.TypeSet
	RestoreTimeout time.Duration
	Now            func() time.Time
}

// NoticeEvent 轮次提示 (经 bus 推送)。
type NoticeEvent struct {
	SessionID    string         `json:"sessionId"`
	SubmissionID string         `json:"submissionId"`
	TurnID       string         `json:"reqId,omitempty"`
	Notice       uistate.Notice `json:"notice"`
}

type turnState struct {
	turn      uistate.Turn
	gate      *uistate.WorkspaceGate
	fileTasks []uistate.Task // 历史恢复时的文件任务
	restored  bool
}

// Controller 单个操作者的会话控制器。并发安全。
type Controller struct {
	streams  StreamOpener
	sync     *session.Synchronizer
	sessions SessionReader
	files    files.Lister
	bus      *bus.MessageBus
	merger   uistate.Merger
	summary  uistate.TypeSet
	timeout  time.Duration
	now      func() time.Time

	mu         sync.Mutex
	sessionID  string
	title      string
	turns      []*turnState
	activeSub  string
	active     *stream.Stream
	generation uint64
	seq        uint64
}

// New 创建控制器。
func New(opts Options) *Controller {
	summary := opts.SummaryTypes
	if len(summary) == 0 {
		summary = uistate.NewTypeSet(uistate.DefaultSummaryTypes...)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.RestoreTimeout
	if timeout <= 0 {
		timeout = defaultRestoreTimeout
	}
	return &Controller{
		streams:  opts.Streams,
		sync:     opts.Sync,
		sessions: opts.Sessions,
		files:    opts.Files,
		bus:      opts.Bus,
		merger:   uistate.NewMerger(summary),
		summary:  summary,
		timeout:  timeout,
		now:      now,
	}
}

// ========================================
// 操作
// ========================================

// NewSession 开始新会话: 取消当前流, 清空轮次。返回新会话 ID。
func (c *Controller) NewSession() string {
	c.mu.Lock()
	_, detached := c.supersedeLocked("new_session")
	c.sessionID = uuid.NewString()
	c.title = ""
	c.turns = nil
	c.activeSub = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()
	cancelStream(detached)

	logger.Info("conversation: new session", logger.FieldSessionID, snap.SessionID)
	c.publishSnapshot(snap)
	return snap.SessionID
}

// Submit 提交查询并打开流。返回本地提交 ID; 连接失败通过轮次提示体现。
func (c *Controller) Submit(ctx context.Context, query string, mode stream.ModeFlags) (string, error) {
	const op = "Controller.Submit"
	query = strings.TrimSpace(query)
	if query == "" {
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, op, "query is required")
	}
	if c.streams == nil {
		return "", apperrors.New(op, "stream opener is nil")
	}

	c.mu.Lock()
	stopped, detached := c.supersedeLocked("new_query")
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	sub := uuid.NewString()
	turn := uistate.NewTurn(c.sessionID, sub, query, c.now())
	c.turns = append(c.turns, &turnState{turn: turn, gate: uistate.NewWorkspaceGate(c.summary)})
	c.activeSub = sub
	gen := c.generation
	sessionID := c.sessionID
	snap := c.snapshotLocked()
	c.mu.Unlock()
	cancelStream(detached)

	for _, n := range stopped {
		c.publishNotice(n)
	}
	c.publishSnapshot(snap)

	req := stream.Request{SessionID: sessionID, TurnSubmissionID: sub, Query: query, ModeFlags: mode}
	s, err := c.streams.Open(context.WithoutCancel(ctx), req, c.handler(gen, sub))
	if err != nil {
		c.failTurn(gen, sub, uistate.NoticeStreamOpenFailed, err)
		return sub, nil
	}

	c.mu.Lock()
	keep := false
	switch ts := c.findLocked(sub); {
	case gen != c.generation:
	case ts != nil && ts.turn.Finished:
		// 额度耗尽等在 Open 返回前已结束
	default:
		c.active = s
		keep = true
	}
	c.mu.Unlock()
	if !keep {
		s.Cancel()
	}

	logger.Info("conversation: query submitted",
		logger.FieldSessionID, sessionID,
		logger.FieldSubmissionID, sub,
		logger.FieldGeneration, gen)
	return sub, nil
}

// Stop 强制停止当前轮次。不触发会话 update。返回是否有轮次被停止。
func (c *Controller) Stop() bool {
	c.mu.Lock()
	stopped, detached := c.supersedeLocked("stop")
	if len(stopped) == 0 {
		c.mu.Unlock()
		cancelStream(detached)
		return false
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	cancelStream(detached)

	for _, n := range stopped {
		c.publishNotice(n)
	}
	c.publishSnapshot(snap)
	return true
}

// CloseWorkspace 操作者关闭某轮次的工作区面板。
func (c *Controller) CloseWorkspace(submissionID string) error {
	c.mu.Lock()
	ts := c.findLocked(submissionID)
	if ts == nil {
		c.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrNotFound, "Controller.CloseWorkspace", "turn "+submissionID)
	}
	ts.gate.Close(ts.turn.Tasks)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publishSnapshot(snap)
	return nil
}

// Restore 从存储加载 reqId 对应的会话并替换当前状态; 若该轮次有文件则打开工作区并填充文件任务。
// 网络调用在锁外进行, 期间若被新操作取代则放弃并返回 ErrConflict。
func (c *Controller) Restore(ctx context.Context, turnID string) (uistate.SessionSnapshot, error) {
	const op = "Controller.Restore"
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return uistate.SessionSnapshot{}, apperrors.Wrap(apperrors.ErrInvalidInput, op, "reqId is required")
	}
	if c.sessions == nil {
		return uistate.SessionSnapshot{}, apperrors.New(op, "session reader is nil")
	}

	c.mu.Lock()
	stopped, detached := c.supersedeLocked("restore")
	gen := c.generation
	c.mu.Unlock()
	cancelStream(detached)
	for _, n := range stopped {
		c.publishNotice(n)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rec, err := c.sessions.Get(ctx, turnID)
	if err != nil {
		return uistate.SessionSnapshot{}, apperrors.Wrap(err, op, "load session "+turnID)
	}
	var fileTasks []uistate.Task
	if c.files != nil {
		list, err := c.files.List(ctx, turnID)
		if err != nil {
			logger.Warn("conversation: list files failed", logger.FieldTurnID, turnID, logger.FieldError, err)
		}
		fileTasks = uistate.NewFileTasks(turnID, files.ToFileInfos(list))
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return uistate.SessionSnapshot{}, apperrors.Wrap(apperrors.ErrConflict, op, "superseded by a newer action")
	}
	c.installLocked(rec, turnID, fileTasks)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.sync != nil {
		c.sync.MarkSaved(turnID)
	}
	logger.Info("conversation: session restored",
		logger.FieldTurnID, turnID,
		logger.FieldSessionID, snap.SessionID,
		logger.FieldCount, len(snap.Turns))
	c.publishSnapshot(snap)
	return snap, nil
}

// Snapshot 当前会话快照 (深拷贝)。
func (c *Controller) Snapshot() uistate.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SessionID 当前会话 ID; 尚未开始时为空。
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Close 取消当前流并等待进行中的会话写入结束。
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	detached := c.active
	c.active = nil
	c.mu.Unlock()
	cancelStream(detached)
	if c.sync == nil {
		return nil
	}
	return c.sync.Wait(ctx)
}

// ========================================
// 流回调
// ========================================

func (c *Controller) handler(gen uint64, sub string) stream.Handler {
	return stream.Handler{
		OnMessage: func(f stream.Frame) { c.onFrame(gen, sub, f) },
		OnError: func(err error) {
			c.mu.Lock()
			notice := uistate.NoticeStreamFailed
			if ts := c.findLocked(sub); ts != nil && ts.turn.FrameCount == 0 {
				notice = uistate.NoticeStreamOpenFailed
			}
			c.mu.Unlock()
			c.failTurn(gen, sub, notice, err)
		},
		OnClose: func() {
			c.failTurn(gen, sub, uistate.NoticeStreamIncomplete, nil)
		},
	}
}

func (c *Controller) onFrame(gen uint64, sub string, f stream.Frame) {
	if f.IsHeartbeat() {
		return
	}
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		logger.Debug("conversation: frame from superseded stream dropped",
			logger.FieldSubmissionID, sub, logger.FieldGeneration, gen)
		return
	}
	ts := c.findLocked(sub)
	if ts == nil {
		c.mu.Unlock()
		return
	}
	ts.turn = c.merger.Merge(ts.turn, f)
	ts.gate.Observe(ts.turn.Tasks)

	turnID := ts.turn.TurnID
	quota := ts.turn.QuotaExhausted
	finished := ts.turn.Finished
	data := c.sessionDataLocked()
	var notice *NoticeEvent
	if quota {
		n := c.noticeLocked(ts)
		notice = &n
	}
	var detached *stream.Stream
	if finished && c.active != nil {
		// 额度耗尽时主动断开; 正常终结帧后流自行关闭
		if quota {
			detached = c.active
		}
		c.active = nil
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	cancelStream(detached)

	if c.sync != nil && !quota {
		c.sync.Observe(turnID, f, data)
	}
	if notice != nil {
		c.publishNotice(*notice)
	}
	c.publishSnapshot(snap)
}

// failTurn 以 notice 结束 sub 对应的轮次 (已结束的轮次不变)。
func (c *Controller) failTurn(gen uint64, sub string, notice uistate.Notice, cause error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.activeSub == sub {
		c.active = nil
	}
	ts := c.findLocked(sub)
	if ts == nil || ts.turn.Finished {
		c.mu.Unlock()
		return
	}
	ts.turn.Fail(notice, c.now())
	n := c.noticeLocked(ts)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	logger.Warn("conversation: turn failed",
		logger.FieldSubmissionID, sub,
		logger.FieldTurnID, n.TurnID,
		logger.FieldStatus, string(notice),
		logger.FieldError, cause)
	c.publishNotice(n)
	c.publishSnapshot(snap)
}

// ========================================
// 内部 (调用方持有 c.mu)
// ========================================

// supersedeLocked 使当前流失效: generation 自增, 摘下当前流, 停止未结束的活动轮次。
// 返回的流须在释放 c.mu 后取消 (Cancel 会等待进行中的回调, 而回调需要 c.mu)。
func (c *Controller) supersedeLocked(reason string) ([]NoticeEvent, *stream.Stream) {
	c.generation++
	detached := c.active
	c.active = nil
	ts := c.findLocked(c.activeSub)
	if ts == nil || ts.turn.Finished {
		return nil, detached
	}
	ts.turn.Stop(c.now())
	logger.Info("conversation: superseding active turn",
		logger.FieldSubmissionID, ts.turn.SubmissionID,
		logger.FieldTurnID, ts.turn.TurnID,
		"reason", reason,
		logger.FieldGeneration, c.generation)
	return []NoticeEvent{c.noticeLocked(ts)}, detached
}

// cancelStream 取消流; 调用方不得持有 c.mu。
func cancelStream(s *stream.Stream) {
	if s != nil {
		s.Cancel()
	}
}

func (c *Controller) findLocked(sub string) *turnState {
	if sub == "" {
		return nil
	}
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].turn.SubmissionID == sub {
			return c.turns[i]
		}
	}
	return nil
}

func (c *Controller) noticeLocked(ts *turnState) NoticeEvent {
	return NoticeEvent{
		SessionID:    c.sessionID,
		SubmissionID: ts.turn.SubmissionID,
		TurnID:       ts.turn.TurnID,
		Notice:       ts.turn.Notice,
	}
}

// sessionDataLocked 会话数据的独立副本 (交给同步器异步写入)。
func (c *Controller) sessionDataLocked() store.ChatSessionData {
	list := make([]uistate.Turn, len(c.turns))
	for i, ts := range c.turns {
		list[i] = uistate.CloneTurn(ts.turn)
	}
	return store.ChatSessionData{SessionID: c.sessionID, ChatTitle: c.title, ChatList: list}
}

// installLocked 用历史记录替换当前状态。文件任务挂在 reqId 对应的轮次上, 找不到则挂在最后一轮。
func (c *Controller) installLocked(rec *store.ChatSession, turnID string, fileTasks []uistate.Task) {
	sessionID := rec.SessionID
	if sessionID == "" {
		sessionID = rec.Data.SessionID
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c.sessionID = sessionID
	c.title = rec.Title
	c.turns = make([]*turnState, 0, len(rec.Data.ChatList))
	c.activeSub = ""

	now := c.now()
	target := -1
	for i, t := range rec.Data.ChatList {
		turn := uistate.CloneTurn(t)
		if turn.SubmissionID == "" {
			turn.SubmissionID = uuid.NewString()
		}
		// 历史轮次不会再收到帧
		turn.Finish(now)
		c.turns = append(c.turns, &turnState{turn: turn, gate: uistate.NewWorkspaceGate(c.summary)})
		if turn.TurnID == turnID {
			target = i
		}
	}
	if target < 0 {
		target = len(c.turns) - 1
	}
	if target >= 0 && len(fileTasks) > 0 {
		ts := c.turns[target]
		ts.fileTasks = fileTasks
		ts.restored = true
		ts.gate.Open()
	}
	if target >= 0 {
		c.activeSub = c.turns[target].turn.SubmissionID
	}
}

func (c *Controller) snapshotLocked() uistate.SessionSnapshot {
	c.seq++
	snap := uistate.SessionSnapshot{
		SessionID:          c.sessionID,
		Title:              c.title,
		Turns:              make([]uistate.TurnSnapshot, 0, len(c.turns)),
		ActiveSubmissionID: c.activeSub,
		Generation:         c.generation,
		Seq:                c.seq,
		At:                 c.now(),
	}
	for _, ts := range c.turns {
		v := uistate.NewTurnSnapshot(ts.turn, ts.gate.IsOpen())
		if ts.restored {
			v.Restored = true
			v.WorkspaceTasks = append(v.WorkspaceTasks[:0:0], ts.fileTasks...)
		}
		snap.Turns = append(snap.Turns, v)
	}
	return snap
}

// ========================================
// 发布
// ========================================

func (c *Controller) publishSnapshot(snap uistate.SessionSnapshot) {
	if c.bus == nil {
		return
	}
	c.bus.PublishJSON(bus.SessionTopic(snap.SessionID, "snapshot"), bus.MsgSessionSnapshot, snap)
}

func (c *Controller) publishNotice(n NoticeEvent) {
	if c.bus == nil || n.Notice == uistate.NoticeNone {
		return
	}
	c.bus.PublishJSON(bus.SessionTopic(n.SessionID, "notice"), bus.MsgTurnNotice, n)
}
