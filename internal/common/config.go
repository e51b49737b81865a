package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Matching    MatchingConfig    `toml:"matching"`
	Queue       QueueConfig       `toml:"queue"`
	LLM         LLMConfig         `toml:"llm"`
	Claude      ClaudeConfig      `toml:"claude"`
	Gemini      GeminiConfig      `toml:"gemini"`
	Security    SecurityConfig    `toml:"security"`
	Batching    BatchingConfig    `toml:"batching"`
	Preferences PreferencesConfig `toml:"preferences"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	InMemory       bool   `toml:"in_memory"`        // In-memory store (tests)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// PipelineConfig contains configuration for the scrape -> job pipeline
type PipelineConfig struct {
	DefaultCurrency    string            `toml:"default_currency"`    // Currency assumed for .ca sources (default: "CAD")
	CompanySuffixes    []string          `toml:"company_suffixes"`    // Legal suffixes stripped before matching (Inc, Ltd, ...)
	ProvinceTable      map[string]string `toml:"province_table"`      // Abbreviation -> full province name
	DedupWindowDays    int               `toml:"dedup_window_days"`   // Fuzzy dedup recency window (default: 60)
	ReanalyzeProtected bool              `toml:"reanalyze_protected"` // Re-enqueue tier 1 when a protected job re-appears
	TransferBatchSize  int               `toml:"transfer_batch_size"` // Max cleaned records per transfer batch
}

// MatchingConfig contains fuzzy-match thresholds and token tables
type MatchingConfig struct {
	TitleThreshold          float64           `toml:"title_threshold" validate:"gte=0,lte=1"`           // Same-job title similarity (default: 0.85)
	CompanyThreshold        float64           `toml:"company_threshold" validate:"gte=0,lte=1"`         // Same-job company similarity (default: 0.90)
	CompanyResolveThreshold float64           `toml:"company_resolve_threshold" validate:"gte=0,lte=1"` // Company resolution at transfer (default: 0.92)
	TitleStopwords          []string          `toml:"title_stopwords"`                                  // Seniority boilerplate excluded from token overlap
	CompanyAliases          map[string]string `toml:"company_aliases"`                                  // Known abbreviation -> canonical name
}

type QueueConfig struct {
	PollInterval    string `toml:"poll_interval"`     // How often the scheduler polls an empty queue (default: "1s")
	MaxPollInterval string `toml:"max_poll_interval"` // Backoff cap for empty-queue polling (default: "30s")
	LeaseTimeout    string `toml:"lease_timeout"`     // in_flight lease duration before redelivery (default: "10m")
	MaxAttempts     int    `toml:"max_attempts"`      // Permanent failure at this attempt count (default: 5)
}

// ModelConfig describes one model the optimizer may select
type ModelConfig struct {
	ID               string  `toml:"id"`
	Role             string  `toml:"role" validate:"oneof=standard premium lite"`
	ContextWindow    int     `toml:"context_window"`
	MaxOutputTokens  int     `toml:"max_output_tokens"`
	InputUSDPerMTok  float64 `toml:"input_usd_per_mtok"`
	OutputUSDPerMTok float64 `toml:"output_usd_per_mtok"`
	OutputMsPerToken float64 `toml:"output_ms_per_token"` // Used to derive call timeouts
}

// LLMConfig contains scheduling limits and the model catalog
type LLMConfig struct {
	DefaultProvider string        `toml:"default_provider"` // "claude" or "gemini"
	RPM             int           `toml:"rpm"`              // Requests per minute per model (default: 15)
	RPD             int           `toml:"rpd"`              // Requests per day per model (default: 1000)
	Concurrency     int           `toml:"concurrency"`      // LLM calls in flight (default: 4)
	DailyMaxUSD     float64       `toml:"daily_max_usd"`    // Zero disables spend cap
	MonthlyMaxUSD   float64       `toml:"monthly_max_usd"`  // Zero disables spend cap
	Models          []ModelConfig `toml:"models"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// SecurityConfig contains prompt-injection defense settings
type SecurityConfig struct {
	TokenMinOccurrences int      `toml:"token_min_occurrences"` // Token embed positions per prompt (default: 20)
	HashAndReplace      bool     `toml:"hash_and_replace"`      // Place descriptions behind hash references
	MaxUnpunctuatedRun  int      `toml:"max_unpunctuated_run"`  // Tokens without terminators before flagging (default: 120)
	ExtraPatterns       []string `toml:"extra_patterns"`        // Additional injection regexes on top of the built-ins
	SampleLength        int      `toml:"sample_length"`         // Bounded text sample length on detections (default: 200)
}

// TierBatchConfig contains per-tier batch planning parameters
type TierBatchConfig struct {
	BaseOutputTokens int `toml:"base_output_tokens"` // Per-job output budget before margin
	MaxBatchSize     int `toml:"max_batch_size"`
	MinBatchSize     int `toml:"min_batch_size"`
}

// BatchingConfig contains token/model/batch optimizer parameters
type BatchingConfig struct {
	CharsPerToken   float64         `toml:"chars_per_token"`  // Input token estimate ratio (default: 4.0)
	PromptOverhead  int             `toml:"prompt_overhead"`  // Fixed prompt token overhead (default: 1200)
	ContextFraction float64         `toml:"context_fraction"` // Usable share of context window (default: 0.90)
	SafetyMargin    float64         `toml:"safety_margin"`    // Output token margin (default: 1.15)
	EMAAlpha        float64         `toml:"ema_alpha"`        // Token efficiency EMA smoothing (default: 0.2)
	Tier1           TierBatchConfig `toml:"tier1"`
	Tier2           TierBatchConfig `toml:"tier2"`
	Tier3           TierBatchConfig `toml:"tier3"`
}

// PreferencesConfig contains preference regression and scoring settings
type PreferencesConfig struct {
	DecisionThreshold float64 `toml:"decision_threshold" validate:"gte=0,lte=100"` // should_apply cutoff (default: 70)
	MaxScenarios      int     `toml:"max_scenarios"`                               // Scenarios per user (default: 5)
	Currency          string  `toml:"currency"`                                    // Currency salary features are compared in
	Seed              int64   `toml:"seed"`                                        // Fixed training seed for determinism
}

// MaintenanceConfig contains cron schedules for background sweeps
type MaintenanceConfig struct {
	Enabled      bool   `toml:"enabled"`
	LeaseSweep   string `toml:"lease_sweep"`   // Cron schedule for lease expiry (default: every minute)
	CounterReset string `toml:"counter_reset"` // Cron schedule for UTC-midnight counter reset
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings should need to appear in jobsift.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Pipeline: PipelineConfig{
			DefaultCurrency: "CAD",
			CompanySuffixes: []string{"Inc", "Ltd", "LLC", "Corp", "Co"},
			ProvinceTable: map[string]string{
				"AB": "Alberta", "BC": "British Columbia", "MB": "Manitoba",
				"NB": "New Brunswick", "NL": "Newfoundland and Labrador",
				"NS": "Nova Scotia", "NT": "Northwest Territories", "NU": "Nunavut",
				"ON": "Ontario", "PE": "Prince Edward Island", "QC": "Quebec",
				"SK": "Saskatchewan", "YT": "Yukon",
			},
			DedupWindowDays:   60,
			TransferBatchSize: 200,
		},
		Matching: MatchingConfig{
			TitleThreshold:          0.85,
			CompanyThreshold:        0.90,
			CompanyResolveThreshold: 0.92,
			TitleStopwords:          []string{"senior", "junior", "sr", "jr", "ii", "iii", "iv", "lead", "principal"},
			CompanyAliases:          map[string]string{},
		},
		Queue: QueueConfig{
			PollInterval:    "1s",
			MaxPollInterval: "30s",
			LeaseTimeout:    "10m",
			MaxAttempts:     5,
		},
		LLM: LLMConfig{
			DefaultProvider: "claude",
			RPM:             15,
			RPD:             1000,
			Concurrency:     4,
			Models: []ModelConfig{
				{
					ID:               "claude-haiku-3-5-20241022",
					Role:             "standard",
					ContextWindow:    200000,
					MaxOutputTokens:  8192,
					InputUSDPerMTok:  0.80,
					OutputUSDPerMTok: 4.00,
					OutputMsPerToken: 12,
				},
				{
					ID:               "claude-sonnet-4-20250514",
					Role:             "premium",
					ContextWindow:    200000,
					MaxOutputTokens:  16384,
					InputUSDPerMTok:  3.00,
					OutputUSDPerMTok: 15.00,
					OutputMsPerToken: 18,
				},
				{
					ID:               "gemini-3-flash-preview",
					Role:             "lite",
					ContextWindow:    1000000,
					MaxOutputTokens:  8192,
					InputUSDPerMTok:  0.10,
					OutputUSDPerMTok: 0.40,
					OutputMsPerToken: 8,
				},
			},
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "5m",
			Temperature: 0.2,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Timeout:     "5m",
			Temperature: 0.2,
		},
		Security: SecurityConfig{
			TokenMinOccurrences: 20,
			HashAndReplace:      false,
			MaxUnpunctuatedRun:  120,
			SampleLength:        200,
		},
		Batching: BatchingConfig{
			CharsPerToken:   4.0,
			PromptOverhead:  1200,
			ContextFraction: 0.90,
			SafetyMargin:    1.15,
			EMAAlpha:        0.2,
			Tier1:           TierBatchConfig{BaseOutputTokens: 700, MaxBatchSize: 20, MinBatchSize: 3},
			Tier2:           TierBatchConfig{BaseOutputTokens: 1200, MaxBatchSize: 5, MinBatchSize: 1},
			Tier3:           TierBatchConfig{BaseOutputTokens: 1500, MaxBatchSize: 5, MinBatchSize: 1},
		},
		Preferences: PreferencesConfig{
			DecisionThreshold: 70,
			MaxScenarios:      5,
			Currency:          "CAD",
			Seed:              42,
		},
		Maintenance: MaintenanceConfig{
			Enabled:      true,
			LeaseSweep:   "0 * * * * *", // Every minute
			CounterReset: "0 0 0 * * *", // UTC midnight
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("JOBSIFT_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if v := os.Getenv("JOBSIFT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("JOBSIFT_DATA_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}

	// Rate limits and spend budgets
	if v := os.Getenv("JOBSIFT_LLM_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.LLM.RPM = n
		}
	}
	if v := os.Getenv("JOBSIFT_LLM_RPD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.LLM.RPD = n
		}
	}
	if v := os.Getenv("JOBSIFT_LLM_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.LLM.Concurrency = n
		}
	}
	if v := os.Getenv("JOBSIFT_LLM_DAILY_MAX_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.LLM.DailyMaxUSD = f
		}
	}
	if v := os.Getenv("JOBSIFT_LLM_MONTHLY_MAX_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.LLM.MonthlyMaxUSD = f
		}
	}

	// Fuzzy-match thresholds
	if v := os.Getenv("JOBSIFT_FUZZY_TITLE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Matching.TitleThreshold = f
		}
	}
	if v := os.Getenv("JOBSIFT_FUZZY_COMPANY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Matching.CompanyThreshold = f
		}
	}
	if v := os.Getenv("JOBSIFT_FUZZY_COMPANY_RESOLVE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Matching.CompanyResolveThreshold = f
		}
	}

	// Security
	if v := os.Getenv("JOBSIFT_SECURITY_TOKEN_MIN_OCCURRENCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Security.TokenMinOccurrences = n
		}
	}
	if v := os.Getenv("JOBSIFT_HASH_AND_REPLACE_ENABLED"); v != "" {
		config.Security.HashAndReplace = strings.EqualFold(v, "true") || v == "1"
	}

	// Preferences
	if v := os.Getenv("JOBSIFT_DECISION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Preferences.DecisionThreshold = f
		}
	}
	if v := os.Getenv("JOBSIFT_MAX_SCENARIOS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Preferences.MaxScenarios = n
		}
	}

	// API keys
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = v
	}
}

// Validate checks the configuration for values the services cannot start with.
// Configuration errors fail fast at startup and are never swallowed.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.LLM.Concurrency < 1 {
		return fmt.Errorf("invalid configuration: llm.concurrency must be >= 1, got %d", c.LLM.Concurrency)
	}
	if c.LLM.RPM < 1 || c.LLM.RPD < 1 {
		return fmt.Errorf("invalid configuration: llm.rpm and llm.rpd must be >= 1")
	}
	if len(c.LLM.Models) == 0 {
		return fmt.Errorf("invalid configuration: llm.models must list at least one model")
	}

	roles := map[string]bool{}
	for _, m := range c.LLM.Models {
		if m.ID == "" {
			return fmt.Errorf("invalid configuration: llm.models entry with empty id")
		}
		if m.ContextWindow <= 0 || m.MaxOutputTokens <= 0 {
			return fmt.Errorf("invalid configuration: model %s needs context_window and max_output_tokens", m.ID)
		}
		roles[m.Role] = true
	}
	if !roles["standard"] {
		return fmt.Errorf("invalid configuration: llm.models must include a model with role \"standard\"")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"queue.poll_interval", c.Queue.PollInterval},
		{"queue.max_poll_interval", c.Queue.MaxPollInterval},
		{"queue.lease_timeout", c.Queue.LeaseTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid configuration: %s: %w", field.name, err)
		}
	}

	if c.Security.TokenMinOccurrences < 1 {
		return fmt.Errorf("invalid configuration: security.token_min_occurrences must be >= 1")
	}
	if c.Preferences.MaxScenarios < 1 || c.Preferences.MaxScenarios > 5 {
		return fmt.Errorf("invalid configuration: preferences.max_scenarios must be in 1..5")
	}

	return nil
}

// PollInterval returns the parsed queue poll interval
func (c *Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Queue.PollInterval)
	return d
}

// MaxPollInterval returns the parsed empty-queue backoff cap
func (c *Config) MaxPollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Queue.MaxPollInterval)
	return d
}

// LeaseTimeout returns the parsed queue lease duration
func (c *Config) LeaseTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Queue.LeaseTimeout)
	return d
}

// ModelByID looks up a model in the catalog
func (c *Config) ModelByID(id string) (ModelConfig, bool) {
	for _, m := range c.LLM.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// ModelByRole returns the first model with the given role
func (c *Config) ModelByRole(role string) (ModelConfig, bool) {
	for _, m := range c.LLM.Models {
		if m.Role == role {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// TierBatch returns the batching parameters for a tier
func (c *Config) TierBatch(tier int) TierBatchConfig {
	switch tier {
	case 1:
		return c.Batching.Tier1
	case 2:
		return c.Batching.Tier2
	default:
		return c.Batching.Tier3
	}
}

// ResolveAPIKey resolves a provider API key with priority: environment
// variable, KV store, config fallback. kvGet may be nil when no store is
// wired (tests).
func ResolveAPIKey(name string, kvGet func(string) (string, error), configFallback string) (string, error) {
	envNames := map[string][]string{
		"anthropic_api_key": {"ANTHROPIC_API_KEY", "JOBSIFT_CLAUDE_API_KEY"},
		"gemini_api_key":    {"GEMINI_API_KEY", "JOBSIFT_GEMINI_API_KEY"},
	}

	for _, envName := range envNames[name] {
		if v := os.Getenv(envName); v != "" {
			return v, nil
		}
	}

	if kvGet != nil {
		if v, err := kvGet(name); err == nil && v != "" {
			return v, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("no API key found for %s: set an environment variable or store it in the KV bucket", name)
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
