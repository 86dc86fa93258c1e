// config_test.go: 配置加载默认值 + 环境变量覆盖测试。
package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"LISTEN_ADDR", "AGENT_TRANSPORT", "SESSION_STORE_BACKEND", "SUMMARY_MESSAGE_TYPES", "AGENT_IDLE_TIMEOUT", "POSTGRES_SCHEMA"} {
		os.Unsetenv(k)
	}

	cfg := Load()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"ListenAddr", cfg.ListenAddr, ":8080"},
		{"AgentTransport", cfg.AgentTransport, TransportSSE},
		{"AgentConnectTimeout", cfg.AgentConnectTimeout, 10 * time.Second},
		{"AgentIdleTimeout", cfg.AgentIdleTimeout, 2 * time.Minute},
		{"SessionStoreBackend", cfg.SessionStoreBackend, StoreBackendMemory},
		{"SessionSyncTimeout", cfg.SessionSyncTimeout, 15 * time.Second},
		{"SessionTitleMaxLen", cfg.SessionTitleMaxLen, 50},
		{"FileListCacheTTL", cfg.FileListCacheTTL, 30 * time.Second},
		{"PostgresSchema", cfg.PostgresSchema, "public"},
		{"PostgresPoolMaxSize", cfg.PostgresPoolMaxSize, 10},
		{"LogLevel", cfg.LogLevel, "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
	if !reflect.DeepEqual(cfg.SummaryMessageTypes, []string{"result", "task_summary"}) {
		t.Errorf("SummaryMessageTypes = %v", cfg.SummaryMessageTypes)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AGENT_TRANSPORT", "ws")
	t.Setenv("SESSION_STORE_BACKEND", "postgres")
	t.Setenv("AGENT_IDLE_TIMEOUT", "1s") // 低于 min 5s
	t.Setenv("SUMMARY_MESSAGE_TYPES", "result")
	t.Setenv("APP_ENV", "dev")

	cfg := Load()

	if cfg.AgentTransport != TransportWebSocket {
		t.Errorf("AgentTransport = %q, want ws", cfg.AgentTransport)
	}
	if cfg.SessionStoreBackend != StoreBackendPostgres {
		t.Errorf("SessionStoreBackend = %q, want postgres", cfg.SessionStoreBackend)
	}
	if cfg.AgentIdleTimeout != 5*time.Second {
		t.Errorf("AgentIdleTimeout = %v, want clamped 5s", cfg.AgentIdleTimeout)
	}
	if !reflect.DeepEqual(cfg.SummaryMessageTypes, []string{"result"}) {
		t.Errorf("SummaryMessageTypes = %v", cfg.SummaryMessageTypes)
	}
	if !cfg.Development() {
		t.Error("Development() = false, want true for APP_ENV=dev")
	}
}
