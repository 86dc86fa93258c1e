package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// 多个 goroutine 并发读写 defaultLogger, go test -race 下不应报告 data race。
func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", FieldTurnID, "r1")
			_ = getLogger()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()
	wg.Wait()
	Init("production")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	Init("production")
	if FromContext(context.Background()) != getLogger() {
		t.Fatal("FromContext without injected logger should return default logger")
	}
	custom := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := WithContext(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Fatal("FromContext should return injected logger")
	}
}

func TestInitWithFileWritesJSON(t *testing.T) {
	dir := t.TempDir()
	if err := InitWithFile(dir, "INFO"); err != nil {
		t.Fatalf("InitWithFile: %v", err)
	}
	Info("session created", FieldTurnID, "req-42")
	ShutdownFileHandler()
	Init("production")

	matches, _ := filepath.Glob(filepath.Join(dir, "agent-console-*.log"))
	if len(matches) != 1 {
		t.Fatalf("log files = %v, want exactly one", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"turn_id":"req-42"`) {
		t.Errorf("log file missing turn_id field: %s", data)
	}
}
