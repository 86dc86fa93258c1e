// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"time"

	"github.com/multi-agent/agent-console/pkg/util"
)

// 会话存储后端。
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
	StoreBackendRemote   = "remote"
)

// 流传输方式。
const (
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// HTTP
	ListenAddr string `env:"LISTEN_ADDR" default:":8080"`
	AppEnv     string `env:"APP_ENV" default:"production"`
	LogLevel   string `env:"LOG_LEVEL" default:"INFO"`
	LogDir     string `env:"LOG_DIR"`

	// Agent 执行服务 (流式)
	AgentBaseURL        string        `env:"AGENT_BASE_URL" default:"http://127.0.0.1:8080"`
	AgentStreamPath     string        `env:"AGENT_STREAM_PATH" default:"/web/api/v1/gpt/queryAgentStreamIncr"`
	AgentTransport      string        `env:"AGENT_TRANSPORT" default:"sse"`
	AgentConnectTimeout time.Duration `env:"AGENT_CONNECT_TIMEOUT" default:"10s" min:"1s"`
	AgentIdleTimeout    time.Duration `env:"AGENT_IDLE_TIMEOUT" default:"2m" min:"5s"`

	// 会话存储
	SessionStoreBackend string        `env:"SESSION_STORE_BACKEND" default:"memory"`
	SessionServiceURL   string        `env:"SESSION_SERVICE_URL" default:"http://127.0.0.1:1601/v1/chat_session"`
	SessionSyncTimeout  time.Duration `env:"SESSION_SYNC_TIMEOUT" default:"15s" min:"1s"`
	SessionTitleMaxLen  int           `env:"SESSION_TITLE_MAX_LEN" default:"50" min:"1"`

	// 文件列表
	FileDBDir        string        `env:"FILE_DB_DIR" default:"./file_db_dir"`
	FileServiceURL   string        `env:"FILE_SERVICE_URL"`
	FileListCacheTTL time.Duration `env:"FILE_LIST_CACHE_TTL" default:"30s" min:"0s"`

	// Workspace 门控: 不触发工作区展开的"终结/总结"消息类型 (封闭集合)
	SummaryMessageTypes []string `env:"SUMMARY_MESSAGE_TYPES" default:"result,task_summary"`

	// PostgreSQL
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	MigrationsDir       string `env:"MIGRATIONS_DIR" default:"./migrations"`

	// 推送
	SSEKeepalive time.Duration `env:"SSE_KEEPALIVE" default:"30s" min:"1s"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

// Development 是否为开发模式 (彩色控制台日志)。
func (c *Config) Development() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}
