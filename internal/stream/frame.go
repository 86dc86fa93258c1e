// Package stream 提供 Agent 执行服务的流式客户端。
//
// 一次查询 = 一条逻辑流。帧 (Frame) 按到达顺序在单一 goroutine 上回调,
// 直至关闭、出错或调用方取消。传输层 (SSE / WebSocket) 只负责切帧,
// 解码与回调顺序由 Client 统一保证。
package stream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

// PackageType 帧类型。
type PackageType string

const (
	PackageHeartbeat PackageType = "heartbeat"
	PackageData      PackageType = "data"
)

// Status 帧投递状态。
type Status string

const (
	StatusSuccess        Status = "success"
	StatusQuotaExhausted Status = "tokenUseUp" // 额度耗尽, 需单独提示
	StatusFailed         Status = "failed"
)

// Frame 一帧流式协议数据。
type Frame struct {
	PackageType PackageType `json:"packageType"`
	Finished    bool        `json:"finished"`
	ReqID       string      `json:"reqId,omitempty"`
	Status      Status      `json:"status,omitempty"`
	ResultMap   *ResultMap  `json:"resultMap,omitempty"`
	ResponseAll string      `json:"responseAll,omitempty"`

	// 以下字段由 Client 在接收时填充, 不参与序列化。
	Seq        uint64    `json:"-"`
	ReceivedAt time.Time `json:"-"`
}

// ResultMap 部分结果载荷。eventData 可以是单个对象或对象数组。
type ResultMap struct {
	EventData json.RawMessage `json:"eventData,omitempty"`
}

// EventData 单条 Agent 事件。
type EventData struct {
	MessageType string          `json:"messageType"`
	MessageID   string          `json:"messageId,omitempty"`
	ID          string          `json:"id,omitempty"`
	TaskID      string          `json:"taskId,omitempty"`
	MessageTime json.RawMessage `json:"messageTime,omitempty"`
	IsFinal     bool            `json:"isFinal,omitempty"`
	ResultMap   json.RawMessage `json:"resultMap,omitempty"`
}

// IsHeartbeat 心跳帧只表示连接存活。
func (f Frame) IsHeartbeat() bool { return f.PackageType == PackageHeartbeat }

// IsTerminal 非心跳且带 finished 标记。
func (f Frame) IsTerminal() bool { return !f.IsHeartbeat() && f.Finished }

// HasFullResponse 终结帧携带服务端拼接好的完整回答。
func (f Frame) HasFullResponse() bool { return f.IsTerminal() && f.ResponseAll != "" }

// Events 解析 eventData; 缺失时返回 nil。
func (f Frame) Events() ([]EventData, error) {
	if f.ResultMap == nil {
		return nil, nil
	}
	raw := bytes.TrimSpace(f.ResultMap.EventData)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []EventData
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, apperrors.Wrap(err, "Frame.Events", "decode eventData list")
		}
		return list, nil
	}
	var one EventData
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, apperrors.Wrap(err, "Frame.Events", "decode eventData")
	}
	return []EventData{one}, nil
}

// ExplicitID 载荷自带的稳定 ID, 依次取 messageId, id, taskId。
func (e EventData) ExplicitID() string {
	for _, id := range []string{e.MessageID, e.ID, e.TaskID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// Timestamp 解析 messageTime (毫秒时间戳数字/字符串 或 RFC3339)。无法解析返回零值。
func (e EventData) Timestamp() time.Time {
	raw := bytes.TrimSpace(e.MessageTime)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	text := strings.Trim(string(raw), `"`)
	if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return t
	}
	return time.Time{}
}

// DecodeFrame 解码单帧并规范化 packageType。
//
// 纯文本 "heartbeat" 也视为心跳帧; 空/未知 packageType 视为 data。
func DecodeFrame(raw []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Frame{}, apperrors.Wrap(apperrors.ErrInvalidInput, "DecodeFrame", "empty frame")
	}
	if strings.EqualFold(string(trimmed), string(PackageHeartbeat)) {
		return Frame{PackageType: PackageHeartbeat}, nil
	}
	var f Frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Frame{}, apperrors.Wrap(err, "DecodeFrame", "decode frame json")
	}
	switch PackageType(strings.ToLower(strings.TrimSpace(string(f.PackageType)))) {
	case PackageHeartbeat:
		f.PackageType = PackageHeartbeat
	default:
		f.PackageType = PackageData
	}
	f.ReqID = strings.TrimSpace(f.ReqID)
	f.Status = Status(strings.TrimSpace(string(f.Status)))
	return f, nil
}
