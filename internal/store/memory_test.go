package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/agent-console/internal/uistate"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

func sessionData(sessionID string, queries ...string) ChatSessionData {
	data := ChatSessionData{SessionID: sessionID}
	for i, q := range queries {
		data.ChatList = append(data.ChatList, uistate.NewTurn(sessionID, "sub-"+q, q, time.Unix(int64(i), 0)))
	}
	return data
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	s := NewMemoryChatSessionStore(50)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "r1", sessionData("s1", "hello")))
	err := s.Create(ctx, "r1", sessionData("s1", "again"))
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Title)
	assert.Equal(t, "hello", got.Data.ChatList[0].Query)
}

func TestMemoryStoreTitleImmutable(t *testing.T) {
	s := NewMemoryChatSessionStore(50)
	ctx := context.Background()

	data := sessionData("s1", "first question")
	data.ChatTitle = "Pinned title"
	require.NoError(t, s.Create(ctx, "r1", data))

	update := sessionData("s1", "first question", "second")
	update.ChatTitle = "Renamed"
	update.ChatList[1].Response = "answer"
	require.NoError(t, s.Update(ctx, "r1", update))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Pinned title", got.Title)
	assert.Equal(t, "Pinned title", got.Data.ChatTitle)
	require.Len(t, got.Data.ChatList, 2)
	assert.Equal(t, "answer", got.Data.ChatList[1].Response)
}

func TestMemoryStoreUpdateOverwrites(t *testing.T) {
	s := NewMemoryChatSessionStore(50)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "r1", sessionData("s1", "a", "b", "c")))
	require.NoError(t, s.Update(ctx, "r1", sessionData("s1", "a")))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Data.ChatList, 1, "update is a full overwrite, not a merge")
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryChatSessionStore(50)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(s.Update(ctx, "missing", ChatSessionData{})))
	assert.True(t, apperrors.IsNotFound(s.Delete(ctx, "missing")))
	assert.True(t, errors.Is(s.Create(ctx, " ", ChatSessionData{}), apperrors.ErrInvalidInput))
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemoryChatSessionStore(50)
	ctx := context.Background()
	data := sessionData("s1", "q")
	require.NoError(t, s.Create(ctx, "r1", data))

	data.ChatList[0].Query = "mutated"
	got, _ := s.Get(ctx, "r1")
	got.Data.ChatList[0].Query = "mutated again"

	again, _ := s.Get(ctx, "r1")
	assert.Equal(t, "q", again.Data.ChatList[0].Query)
}

func TestMemoryStoreList(t *testing.T) {
	s := NewMemoryChatSessionStore(5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "r1", sessionData("s1", "oldest question")))
	require.NoError(t, s.Create(ctx, "r2", ChatSessionData{SessionID: "s2"}))
	require.NoError(t, s.Create(ctx, "r3", sessionData("s1", "newest")))

	res, err := s.List(ctx, ListQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Sessions, 2)
	assert.Equal(t, "r3", res.Sessions[0].ReqID)
	assert.Equal(t, "r2", res.Sessions[1].ReqID)
	assert.Equal(t, UntitledSession, res.Sessions[1].ChatTitle)

	res, err = s.List(ctx, ListQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, res.Sessions, 1)
	assert.Equal(t, "oldes…", res.Sessions[0].ChatTitle, "title truncated to max runes")

	res, err = s.List(ctx, ListQuery{SessionID: "s1", Keyword: "NEW"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "r3", res.Sessions[0].ReqID)

	require.NoError(t, s.Delete(ctx, "r3"))
	res, _ = s.List(ctx, ListQuery{})
	assert.Equal(t, 2, res.Total)
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		data ChatSessionData
		max  int
		want string
	}{
		{"explicit", ChatSessionData{ChatTitle: " Title "}, 50, "Title"},
		{"first query", sessionData("s", "hello world"), 50, "hello world"},
		{"truncated", sessionData("s", "你好世界再见"), 4, "你好世界…"},
		{"empty", ChatSessionData{}, 50, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.data, tt.max))
		})
	}
	assert.Equal(t, UntitledSession, DisplayTitle("", ""))
	assert.Equal(t, "q", DisplayTitle("", "q"))
}
