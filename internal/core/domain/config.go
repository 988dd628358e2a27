package domain

import "time"

// ServerConfig configures the HTTP kernel
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins"`
	SyncWait        time.Duration `json:"sync_wait" yaml:"sync_wait"` // default deadline for the synchronous endpoint
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	OpenAPIValidate bool          `json:"openapi_validate" yaml:"openapi_validate"`
}

// LLMProviderConfig configures the LLM provider
type LLMProviderConfig struct {
	Mode         string `json:"mode" yaml:"mode"`                   // "local" or "remote"
	LocalURL     string `json:"local_url" yaml:"local_url"`         // "http://localhost:11434"
	RemoteURL    string `json:"remote_url" yaml:"remote_url"`       // "https://api.openai.com/v1"
	APIKey       string `json:"api_key" yaml:"api_key"`             // may be "enc:..." on disk
	DefaultModel string `json:"default_model" yaml:"default_model"` // "gemma3:12b" or "gpt-4o"
}

// JobsConfig bounds the job store and scheduler
type JobsConfig struct {
	MaxConcurrent int64         `json:"max_concurrent" yaml:"max_concurrent"`
	QueueDepth    int           `json:"queue_depth" yaml:"queue_depth"`
	Retention     time.Duration `json:"retention" yaml:"retention"` // terminal jobs older than this are evicted
	MaxLogLines   int           `json:"max_log_lines" yaml:"max_log_lines"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"` // hard cap per job
}

// SupervisorConfig bounds one research round
type SupervisorConfig struct {
	MaxConcurrentResearchers int `json:"max_concurrent_researchers" yaml:"max_concurrent_researchers"`
	MaxResearcherIterations  int `json:"max_researcher_iterations" yaml:"max_researcher_iterations"`
}

// SessionsConfig sizes the duplex session mailboxes
type SessionsConfig struct {
	InboundCapacity  int           `json:"inbound_capacity" yaml:"inbound_capacity"`
	OutboundCapacity int           `json:"outbound_capacity" yaml:"outbound_capacity"`
	ShutdownGrace    time.Duration `json:"shutdown_grace" yaml:"shutdown_grace"`
	MaxSessions      int           `json:"max_sessions" yaml:"max_sessions"`
	MaxInflight      int           `json:"max_inflight" yaml:"max_inflight"` // concurrent handlers per session
}

// SearchConfig feeds web results to researchers
type SearchConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	BraveAPIKey string `json:"brave_api_key" yaml:"brave_api_key"` // optional; DuckDuckGo is used without it
	MaxResults  int    `json:"max_results" yaml:"max_results"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or text
}

// AppConfig is the main application configuration
type AppConfig struct {
	Server     ServerConfig      `json:"server" yaml:"server"`
	LLM        LLMProviderConfig `json:"llm" yaml:"llm"`
	Jobs       JobsConfig        `json:"jobs" yaml:"jobs"`
	Supervisor SupervisorConfig  `json:"supervisor" yaml:"supervisor"`
	Sessions   SessionsConfig    `json:"sessions" yaml:"sessions"`
	Search     SearchConfig      `json:"search" yaml:"search"`
	Log        LogConfig         `json:"log" yaml:"log"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:3000"},
			SyncWait:        5 * time.Minute,
			ShutdownTimeout: 5 * time.Second,
			OpenAPIValidate: true,
		},
		LLM: LLMProviderConfig{
			Mode:         "local",
			LocalURL:     "http://localhost:11434",
			RemoteURL:    "https://api.openai.com/v1",
			DefaultModel: "gemma3:12b",
		},
		Jobs: JobsConfig{
			MaxConcurrent: 10,
			QueueDepth:    100,
			Retention:     time.Hour,
			MaxLogLines:   200,
			Timeout:       30 * time.Minute,
		},
		Supervisor: SupervisorConfig{
			MaxConcurrentResearchers: 3,
			MaxResearcherIterations:  15,
		},
		Sessions: SessionsConfig{
			InboundCapacity:  32,
			OutboundCapacity: 64,
			ShutdownGrace:    5 * time.Second,
			MaxSessions:      256,
			MaxInflight:      8,
		},
		Search: SearchConfig{
			Enabled:    true,
			MaxResults: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
