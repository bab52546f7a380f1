package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root settings tree for the kernel.
type Config struct {
	// Version is the settings file's schema version, checked against
	// CurrentVersion on load. Defaults to CurrentVersion when omitted, so
	// existing unversioned files keep loading.
	Version       int                 `yaml:"version"`
	Paths         PathsConfig         `yaml:"paths"`
	Router        RouterConfig        `yaml:"router"`
	Index         IndexConfig         `yaml:"index"`
	Timeouts      TimeoutsConfig      `yaml:"timeouts"`
	Chunk         ChunkConfig         `yaml:"chunk"`
	Aliases       map[string]string   `yaml:"aliases"`
	Contextasm    ContextasmConfig    `yaml:"contextasm"`
	Permission    PermissionConfig    `yaml:"permission"`
	Watcher       WatcherConfig       `yaml:"watcher"`
	Transport     TransportConfig     `yaml:"transport"`
	Cron          CronConfig          `yaml:"cron"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PathsConfig locates the skill tree and the kernel's own working dirs.
type PathsConfig struct {
	SkillsRoot string `yaml:"skills_root"`
	DataDir    string `yaml:"data_dir"`
	CacheDir   string `yaml:"cache_dir"`
	// PythonBin is the interpreter C6's Executor shells out to for every
	// skill command call. Defaults to "python3" on PATH.
	PythonBin string `yaml:"python_bin"`
}

// RouterConfig configures C4's query normalization and candidate budget.
type RouterConfig struct {
	Normalize RouterNormalizeConfig `yaml:"normalize"`
	Limits    RouterLimitsConfig    `yaml:"limits"`
}

// RouterNormalizeConfig maps known-typo query tokens to their canonical form.
type RouterNormalizeConfig struct {
	Typos map[string]string `yaml:"typos"`
}

// RouterLimitsConfig configures spec.md §4.4 rule 6's result budgeting.
type RouterLimitsConfig struct {
	CandidateLimit int `yaml:"candidate_limit"`
	MaxSources     int `yaml:"max_sources"`
	RowsPerSource  int `yaml:"rows_per_source"`
}

// IndexConfig configures C2/C3's vector column, audit trail, and the
// embedding provider rows are embedded through.
type IndexConfig struct {
	EmbeddingDimension int    `yaml:"embedding_dimension"`
	AuditEnabled       bool   `yaml:"audit_enabled"`
	EmbedderBaseURL    string `yaml:"embedder_base_url"`
	EmbedderModel      string `yaml:"embedder_model"`
}

// TimeoutsConfig configures C6's per-call supervisor.
type TimeoutsConfig struct {
	TotalMS int `yaml:"total_ms"`
	IdleMS  int `yaml:"idle_ms"`
}

// Total returns the configured total timeout as a time.Duration.
func (c TimeoutsConfig) Total() time.Duration { return time.Duration(c.TotalMS) * time.Millisecond }

// Idle returns the configured idle timeout as a time.Duration.
func (c TimeoutsConfig) Idle() time.Duration { return time.Duration(c.IdleMS) * time.Millisecond }

// ChunkConfig configures C8's chunked session defaults.
type ChunkConfig struct {
	BatchSizeDefault int `yaml:"batch_size_default"`
	TTLSeconds       int `yaml:"ttl_seconds"`
}

// TTL returns the configured session TTL as a time.Duration.
func (c ChunkConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

// ContextasmConfig configures C10's layer budgets.
type ContextasmConfig struct {
	// MinQueryChars gates the episodic-memory layer. Spec default: 8.
	MinQueryChars  int `yaml:"min_query_chars"`
	TotalTokens    int `yaml:"total_tokens"`
	MemoryLimit    int `yaml:"memory_limit"`
	KeepLastRounds int `yaml:"keep_last_rounds"`
}

// PermissionConfig configures C5's default grant behavior.
type PermissionConfig struct {
	// DefaultDeny, when true, denies any command whose skill declares no
	// matching permission rule rather than allowing it.
	DefaultDeny bool `yaml:"default_deny"`
}

// WatcherConfig configures C7's debounce behavior.
type WatcherConfig struct {
	CoalesceWindowMS int `yaml:"coalesce_window_ms"`
	QuietPeriodMS    int `yaml:"quiet_period_ms"`
}

// CoalesceWindow returns the configured coalesce window as a time.Duration.
func (c WatcherConfig) CoalesceWindow() time.Duration {
	return time.Duration(c.CoalesceWindowMS) * time.Millisecond
}

// QuietPeriod returns the configured quiet period as a time.Duration.
func (c WatcherConfig) QuietPeriod() time.Duration {
	return time.Duration(c.QuietPeriodMS) * time.Millisecond
}

// TransportConfig configures C9's stdio/SSE servers.
type TransportConfig struct {
	// Stdio enables the stdio transport. Defaults to true when unset.
	Stdio        *bool  `yaml:"stdio"`
	SSEAddr      string `yaml:"sse_addr"`
	EmbedWorkers int    `yaml:"embed_workers"`
	EmbedQueue   int    `yaml:"embed_queue"`
}

// StdioEnabled reports whether the stdio transport should run.
func (c TransportConfig) StdioEnabled() bool {
	return c.Stdio == nil || *c.Stdio
}

// CronConfig configures scheduled index maintenance.
type CronConfig struct {
	Enabled bool               `yaml:"enabled"`
	Reindex CronScheduleConfig `yaml:"reindex_schedule"`
}

// CronScheduleConfig describes one schedule: a cron expression, a fixed
// interval, or a one-shot timestamp. Exactly one of Cron, Every, or At
// should be set.
type CronScheduleConfig struct {
	Cron     string        `yaml:"cron"`
	Every    time.Duration `yaml:"every"`
	At       string        `yaml:"at"`
	Timezone string        `yaml:"timezone"`
}

// LoggingConfig configures the shared slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures the prometheus metrics endpoint and the
// OpenTelemetry tracer every dispatch/index/watch/route operation reports
// through.
type ObservabilityConfig struct {
	// MetricsAddr, when non-empty, serves /metrics on this address via
	// promhttp. Empty disables the endpoint; metrics are still recorded
	// in-process, just never exposed for scraping.
	MetricsAddr string `yaml:"metrics_addr"`
	// TracingEndpoint is the OTLP collector address (e.g. "localhost:4317").
	// Empty yields a no-op tracer.
	TracingEndpoint string `yaml:"tracing_endpoint"`
	// TracingSamplingRate is the fraction of spans sampled when tracing is
	// enabled. Defaults to 1.0 (sample everything).
	TracingSamplingRate float64 `yaml:"tracing_sampling_rate"`
}

// Load reads and parses the configuration file, resolving $include
// directives, applying environment overrides and defaults, and
// validating the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	applyPathsDefaults(&cfg.Paths)
	applyRouterDefaults(&cfg.Router)
	applyIndexDefaults(&cfg.Index)
	applyTimeoutsDefaults(&cfg.Timeouts)
	applyChunkDefaults(&cfg.Chunk)
	applyContextasmDefaults(&cfg.Contextasm)
	applyWatcherDefaults(&cfg.Watcher)
	applyTransportDefaults(&cfg.Transport)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
}

func applyPathsDefaults(cfg *PathsConfig) {
	if cfg.SkillsRoot == "" {
		cfg.SkillsRoot = "skills"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = ".skillkernel/data"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = ".skillkernel/cache"
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
}

func applyRouterDefaults(cfg *RouterConfig) {
	if cfg.Limits.CandidateLimit == 0 {
		cfg.Limits.CandidateLimit = 20
	}
	if cfg.Limits.MaxSources == 0 {
		cfg.Limits.MaxSources = 2
	}
	if cfg.Limits.RowsPerSource == 0 {
		cfg.Limits.RowsPerSource = 20
	}
}

func applyIndexDefaults(cfg *IndexConfig) {
	if cfg.EmbeddingDimension == 0 {
		cfg.EmbeddingDimension = 384
	}
}

func applyTimeoutsDefaults(cfg *TimeoutsConfig) {
	if cfg.TotalMS == 0 {
		cfg.TotalMS = 120_000
	}
	if cfg.IdleMS == 0 {
		cfg.IdleMS = 30_000
	}
}

func applyChunkDefaults(cfg *ChunkConfig) {
	if cfg.BatchSizeDefault == 0 {
		cfg.BatchSizeDefault = 10
	}
	if cfg.TTLSeconds == 0 {
		cfg.TTLSeconds = 1800
	}
}

func applyContextasmDefaults(cfg *ContextasmConfig) {
	if cfg.MinQueryChars == 0 {
		cfg.MinQueryChars = 8
	}
	if cfg.TotalTokens == 0 {
		cfg.TotalTokens = 128_000
	}
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = 5
	}
	if cfg.KeepLastRounds == 0 {
		cfg.KeepLastRounds = 3
	}
}

func applyWatcherDefaults(cfg *WatcherConfig) {
	if cfg.CoalesceWindowMS == 0 {
		cfg.CoalesceWindowMS = 250
	}
	if cfg.QuietPeriodMS == 0 {
		cfg.QuietPeriodMS = 500
	}
}

func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.EmbedWorkers == 0 {
		cfg.EmbedWorkers = 4
	}
	if cfg.EmbedQueue == 0 {
		cfg.EmbedQueue = 64
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.TracingSamplingRate == 0 {
		cfg.TracingSamplingRate = 1.0
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("SKILLKERNEL_SKILLS_ROOT")); value != "" {
		cfg.Paths.SkillsRoot = value
	}
	if value := strings.TrimSpace(os.Getenv("SKILLKERNEL_DATA_DIR")); value != "" {
		cfg.Paths.DataDir = value
	}
	if value := strings.TrimSpace(os.Getenv("SKILLKERNEL_SSE_ADDR")); value != "" {
		cfg.Transport.SSEAddr = value
	}
	if value := strings.TrimSpace(os.Getenv("SKILLKERNEL_TIMEOUT_TOTAL_MS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Timeouts.TotalMS = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("SKILLKERNEL_TIMEOUT_IDLE_MS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Timeouts.IdleMS = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("SKILLKERNEL_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("SKILLKERNEL_METRICS_ADDR")); value != "" {
		cfg.Observability.MetricsAddr = value
	}
	if value := strings.TrimSpace(os.Getenv("SKILLKERNEL_TRACING_ENDPOINT")); value != "" {
		cfg.Observability.TracingEndpoint = value
	}
}

// ConfigValidationError reports every settings problem found in one pass,
// rather than failing on the first.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if strings.TrimSpace(cfg.Paths.SkillsRoot) == "" {
		issues = append(issues, "paths.skills_root is required")
	}
	if cfg.Router.Limits.CandidateLimit < 0 {
		issues = append(issues, "router.limits.candidate_limit must be >= 0")
	}
	if cfg.Router.Limits.MaxSources < 0 {
		issues = append(issues, "router.limits.max_sources must be >= 0")
	}
	if cfg.Router.Limits.RowsPerSource < 0 {
		issues = append(issues, "router.limits.rows_per_source must be >= 0")
	}
	if cfg.Index.EmbeddingDimension <= 0 {
		issues = append(issues, "index.embedding_dimension must be > 0")
	}
	if cfg.Timeouts.TotalMS <= 0 {
		issues = append(issues, "timeouts.total_ms must be > 0")
	}
	if cfg.Timeouts.IdleMS <= 0 {
		issues = append(issues, "timeouts.idle_ms must be > 0")
	}
	if cfg.Timeouts.IdleMS > cfg.Timeouts.TotalMS {
		issues = append(issues, "timeouts.idle_ms must not exceed timeouts.total_ms")
	}
	if cfg.Chunk.BatchSizeDefault <= 0 {
		issues = append(issues, "chunk.batch_size_default must be > 0")
	}
	if cfg.Chunk.TTLSeconds <= 0 {
		issues = append(issues, "chunk.ttl_seconds must be > 0")
	}
	if cfg.Contextasm.MinQueryChars < 0 {
		issues = append(issues, "contextasm.min_query_chars must be >= 0")
	}
	if cfg.Contextasm.TotalTokens <= 0 {
		issues = append(issues, "contextasm.total_tokens must be > 0")
	}
	for alias, canonical := range cfg.Aliases {
		if strings.TrimSpace(alias) == "" {
			issues = append(issues, "aliases keys must not be blank")
		}
		if strings.TrimSpace(canonical) == "" {
			issues = append(issues, fmt.Sprintf("aliases[%q] must not resolve to a blank name", alias))
		}
	}
	if level := strings.ToLower(strings.TrimSpace(cfg.Logging.Level)); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
		default:
			issues = append(issues, "logging.level must be \"debug\", \"info\", \"warn\", or \"error\"")
		}
	}
	if format := strings.ToLower(strings.TrimSpace(cfg.Logging.Format)); format != "" {
		switch format {
		case "json", "text":
		default:
			issues = append(issues, "logging.format must be \"json\" or \"text\"")
		}
	}
	if cfg.Transport.SSEAddr == "" && !cfg.Transport.StdioEnabled() {
		issues = append(issues, "transport must enable stdio, sse_addr, or both")
	}
	if cfg.Observability.TracingSamplingRate < 0 || cfg.Observability.TracingSamplingRate > 1 {
		issues = append(issues, "observability.tracing_sampling_rate must be between 0 and 1")
	}
	if cfg.Cron.Enabled {
		r := cfg.Cron.Reindex
		if strings.TrimSpace(r.Cron) == "" && r.Every == 0 && strings.TrimSpace(r.At) == "" {
			issues = append(issues, "cron.reindex_schedule must set cron, every, or at when cron.enabled is true")
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
