// lumina/internal/config/config.go
package config

import "time"

// ProviderConfig holds connection settings for one LLM provider.
type ProviderConfig struct {
	ID      string   `yaml:"id" json:"id"`
	BaseURL string   `yaml:"base_url" json:"base_url"`
	APIKey  string   `yaml:"api_key" json:"api_key"`
	Models  []string `yaml:"models" json:"models"`
}

// RouteConfig maps one logical LLMManager feature to a provider/model/params triple.
type RouteConfig struct {
	Provider          string  `yaml:"provider" json:"provider"`
	Model             string  `yaml:"model" json:"model"`
	Temperature       float64 `yaml:"temperature" json:"temperature"`
	TopP              float64 `yaml:"top_p" json:"top_p"`
	PresencePenalty   float64 `yaml:"presence_penalty" json:"presence_penalty"`
	FrequencyPenalty  float64 `yaml:"frequency_penalty" json:"frequency_penalty"`
}

// DatabaseConfig configures the Postgres connection used for all relational storage.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" json:"dsn"`
	MaxConns        int32  `yaml:"max_conns" json:"max_conns"`
	ReconnectTries  int    `yaml:"reconnect_tries" json:"reconnect_tries"`
}

// QdrantConfig configures the vector index.
type QdrantConfig struct {
	DSN        string `yaml:"dsn" json:"dsn"`
	Collection string `yaml:"collection" json:"collection"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	Metric     string `yaml:"metric" json:"metric"`
}

// RedisConfig configures the cache used for idle-trigger debounce and dedup windows.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// KafkaConfig configures the optional EventBus relay tap.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// ClickHouseConfig configures the consolidation telemetry sink.
type ClickHouseConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	DSN     string `yaml:"dsn" json:"dsn"`
	Table   string `yaml:"table" json:"table"`
}

// OTelConfig configures tracing/metrics export.
type OTelConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	ServiceName    string `yaml:"service_name" json:"service_name"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// GatewayConfig configures the WebSocket bridge.
type GatewayConfig struct {
	Addr          string        `yaml:"addr" json:"addr"`
	DedupWindow   time.Duration `yaml:"dedup_window" json:"dedup_window"`
	WriteTimeout  time.Duration `yaml:"write_timeout" json:"write_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval" json:"ping_interval"`
}

// SessionConfig bounds per-session short term history.
type SessionConfig struct {
	HistoryTurns int `yaml:"history_turns" json:"history_turns"`
}

// MemoryConfig tunes hybrid search defaults.
type MemoryConfig struct {
	VectorWeight     float64 `yaml:"vector_weight" json:"vector_weight"`
	InitialThreshold float64 `yaml:"initial_threshold" json:"initial_threshold"`
	MinResults       int     `yaml:"min_results" json:"min_results"`
	ThresholdFloor   float64 `yaml:"threshold_floor" json:"threshold_floor"`
	ThresholdStep    float64 `yaml:"threshold_step" json:"threshold_step"`
	MaxRelaxations   int     `yaml:"max_relaxations" json:"max_relaxations"`
	RRFConstant      int     `yaml:"rrf_constant" json:"rrf_constant"`
}

// ConsolidationConfig tunes the background distillation cycle.
type ConsolidationConfig struct {
	Enabled            bool          `yaml:"enabled" json:"enabled"`
	IdleThreshold      time.Duration `yaml:"idle_threshold" json:"idle_threshold"`
	Interval           time.Duration `yaml:"interval" json:"interval"`
	BatchSize          int           `yaml:"batch_size" json:"batch_size"`
	ConflictSimilarity float64       `yaml:"conflict_similarity" json:"conflict_similarity"`
	LLMTimeout         time.Duration `yaml:"llm_timeout" json:"llm_timeout"`
	BatchRetention     time.Duration `yaml:"batch_retention" json:"batch_retention"`
}

// SoulConfig configures the per-character personality service.
type SoulConfig struct {
	DataDir            string `yaml:"data_dir" json:"data_dir"`
	TemplatePath       string `yaml:"template_path" json:"template_path"`
	EvolutionCron      string `yaml:"evolution_cron" json:"evolution_cron"`
	FsyncOnWrite       bool   `yaml:"fsync_on_write" json:"fsync_on_write"`
	DefaultCharacterID string `yaml:"default_character_id" json:"default_character_id"`
}

// PluginConfig configures plugin discovery.
type PluginConfig struct {
	Dir            string        `yaml:"dir" json:"dir"`
	IPCTimeout     time.Duration `yaml:"ipc_timeout" json:"ipc_timeout"`
}

// EmbeddingConfig configures the HTTP endpoint used to compute dense
// vectors for hybrid memory search and conversation logging.
type EmbeddingConfig struct {
	BaseURL   string            `yaml:"base_url" json:"base_url"`
	Path      string            `yaml:"path" json:"path"`
	Model     string            `yaml:"model" json:"model"`
	APIHeader string            `yaml:"api_header" json:"api_header"`
	APIKey    string            `yaml:"api_key" json:"api_key"`
	Headers   map[string]string `yaml:"headers" json:"headers"`
	Timeout   int               `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the root configuration tree, assembled from environment
// variables overlaid on a discovered config file (see Load).
type Config struct {
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	DataDir string `yaml:"data_dir" json:"data_dir"`

	Database     DatabaseConfig              `yaml:"database" json:"database"`
	Qdrant       QdrantConfig                `yaml:"qdrant" json:"qdrant"`
	Redis        RedisConfig                 `yaml:"redis" json:"redis"`
	Kafka        KafkaConfig                 `yaml:"kafka" json:"kafka"`
	ClickHouse   ClickHouseConfig            `yaml:"clickhouse" json:"clickhouse"`
	OTel         OTelConfig                  `yaml:"otel" json:"otel"`
	Gateway      GatewayConfig               `yaml:"gateway" json:"gateway"`
	Session      SessionConfig               `yaml:"session" json:"session"`
	Memory       MemoryConfig                `yaml:"memory" json:"memory"`
	Consolidation ConsolidationConfig        `yaml:"consolidation" json:"consolidation"`
	Soul         SoulConfig                  `yaml:"soul" json:"soul"`
	Plugins      PluginConfig                `yaml:"plugins" json:"plugins"`
	Embedding    EmbeddingConfig             `yaml:"embedding" json:"embedding"`

	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`
	Routes    map[string]RouteConfig    `yaml:"routes" json:"routes"`
}

// FrozenConfig is a read-only snapshot of Config handed to subsystems at
// bootstrap. It is a distinct type so the type system enforces that
// subsystems never receive a mutable *Config they could write through.
type FrozenConfig struct {
	cfg Config
}

// Freeze copies cfg into an immutable snapshot.
func (c Config) Freeze() FrozenConfig {
	cp := c
	cp.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for k, v := range c.Providers {
		cp.Providers[k] = v
	}
	cp.Routes = make(map[string]RouteConfig, len(c.Routes))
	for k, v := range c.Routes {
		cp.Routes[k] = v
	}
	return FrozenConfig{cfg: cp}
}

// Get returns a copy of the underlying configuration. Mutating the
// returned value never affects the snapshot held by other subsystems.
func (f FrozenConfig) Get() Config { return f.cfg }

func defaults() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		DataDir:   "./data",
		Database:  DatabaseConfig{MaxConns: 10, ReconnectTries: 5},
		Qdrant:    QdrantConfig{Collection: "lumina_episodic", Dimensions: 1536, Metric: "cosine"},
		Gateway: GatewayConfig{
			Addr:         ":8787",
			DedupWindow:  2 * time.Second,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Session: SessionConfig{HistoryTurns: 40},
		Memory: MemoryConfig{
			VectorWeight:     0.4,
			InitialThreshold: 0.6,
			MinResults:       3,
			ThresholdFloor:   0.2,
			ThresholdStep:    0.1,
			MaxRelaxations:   5,
			RRFConstant:      60,
		},
		Consolidation: ConsolidationConfig{
			Enabled:            true,
			IdleThreshold:      300 * time.Second,
			BatchSize:          20,
			ConflictSimilarity: 0.75,
			LLMTimeout:         60 * time.Second,
			BatchRetention:     24 * time.Hour,
		},
		Soul: SoulConfig{
			DataDir:            "./data/characters",
			EvolutionCron:      "0 4 * * *",
			DefaultCharacterID: "default",
		},
		Plugins: PluginConfig{
			Dir:        "./plugins",
			IPCTimeout: 30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Path:      "/v1/embeddings",
			APIHeader: "Authorization",
			Timeout:   30,
		},
		Providers: map[string]ProviderConfig{},
		Routes:    map[string]RouteConfig{},
	}
}
