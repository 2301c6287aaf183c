package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StateDirName is the per-project directory holding the task store, history,
// logs, and config.
const StateDirName = ".autocoder"

// Providers understood by the backend registry.
const (
	ProviderClaude   = "claude"
	ProviderOpenCode = "opencode"
	ProviderOpenAI   = "openai"
)

// BackendConfig describes one code-generation backend.
type BackendConfig struct {
	// Provider selects the implementation: claude, opencode, or openai
	Provider string `yaml:"provider"`

	// Model is passed to the provider (CLI --model flag or API model name)
	Model string `yaml:"model"`

	// Binary is the CLI executable for claude and opencode providers
	Binary string `yaml:"binary"`

	// BaseURL overrides the API endpoint for OpenAI-compatible servers
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `yaml:"api_key_env"`

	// Args are extra CLI arguments
	Args []string `yaml:"args"`
}

// ContextConfig bounds what the executor sends to the backend.
type ContextConfig struct {
	// MaxTokens is the token budget for file contents
	MaxTokens int `yaml:"max_tokens"`

	// MaxFileBytes skips files larger than this
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	// Include limits candidate files to these globs (empty = everything)
	Include []string `yaml:"include"`

	// Exclude drops files matching these globs
	Exclude []string `yaml:"exclude"`

	// Tokenizer is "tiktoken" or "estimate"
	Tokenizer string `yaml:"tokenizer"`
}

// GitConfig holds the fallback commit identity.
type GitConfig struct {
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// MetricsConfig controls the Prometheus textfile written after each run.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config represents autocoder configuration options
type Config struct {
	// Model names the backend configuration to use
	Model string `yaml:"model"`

	// MaxAttempts is the attempt ceiling per task before decomposition or escalation
	MaxAttempts int `yaml:"max_attempts"`

	// MaxDepth bounds how deep corrective subtasks may nest
	MaxDepth int `yaml:"max_depth"`

	// MaxTasks stops the run after this many executions (0 = unlimited)
	MaxTasks int `yaml:"max_tasks"`

	// TestTimeout bounds each test command
	TestTimeout time.Duration `yaml:"test_timeout"`

	// BackendTimeout bounds each backend request
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	// RateLimitWait caps how long a rate-limited backend call waits for reset (0 = fail fast)
	RateLimitWait time.Duration `yaml:"rate_limit_wait"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written
	LogDir string `yaml:"log_dir"`

	// StorePath is the task graph file
	StorePath string `yaml:"store_path"`

	// HistoryPath is the attempt history database
	HistoryPath string `yaml:"history_path"`

	Backends map[string]BackendConfig `yaml:"backends"`
	Context  ContextConfig            `yaml:"context"`
	Git      GitConfig                `yaml:"git"`
	Metrics  MetricsConfig            `yaml:"metrics"`
}

// DefaultExclude lists paths never sent to the backend.
var DefaultExclude = []string{
	".git/**",
	StateDirName + "/**",
	"node_modules/**",
	"**/node_modules/**",
	"__pycache__/**",
	"**/__pycache__/**",
	".env",
	"**/.env",
	"tasks.json",
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Model:          "default",
		MaxAttempts:    3,
		MaxDepth:       4,
		MaxTasks:       0,
		TestTimeout:    10 * time.Minute,
		BackendTimeout: 10 * time.Minute,
		RateLimitWait:  5 * time.Minute,
		LogLevel:       "info",
		LogDir:         filepath.Join(StateDirName, "logs"),
		StorePath:      filepath.Join(StateDirName, "tasks.json"),
		HistoryPath:    filepath.Join(StateDirName, "history.db"),
		Backends: map[string]BackendConfig{
			"default":        {Provider: ProviderClaude, Binary: "claude"},
			ProviderClaude:   {Provider: ProviderClaude, Binary: "claude"},
			ProviderOpenCode: {Provider: ProviderOpenCode, Binary: "opencode"},
			ProviderOpenAI:   {Provider: ProviderOpenAI, Model: "gpt-4o", APIKeyEnv: "OPENAI_API_KEY"},
		},
		Context: ContextConfig{
			MaxTokens:    60000,
			MaxFileBytes: 256 * 1024,
			Exclude:      append([]string(nil), DefaultExclude...),
			Tokenizer:    "tiktoken",
		},
		Git: GitConfig{
			AuthorName:  "autocoder",
			AuthorEmail: "autocoder@localhost",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    filepath.Join(StateDirName, "metrics.prom"),
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are strings in YAML; booleans are pointers so an explicit
	// false can override a true default.
	type yamlConfig struct {
		Model          string                   `yaml:"model"`
		MaxAttempts    int                      `yaml:"max_attempts"`
		MaxDepth       int                      `yaml:"max_depth"`
		MaxTasks       int                      `yaml:"max_tasks"`
		TestTimeout    string                   `yaml:"test_timeout"`
		BackendTimeout string                   `yaml:"backend_timeout"`
		RateLimitWait  string                   `yaml:"rate_limit_wait"`
		LogLevel       string                   `yaml:"log_level"`
		LogDir         string                   `yaml:"log_dir"`
		StorePath      string                   `yaml:"store_path"`
		HistoryPath    string                   `yaml:"history_path"`
		Backends       map[string]BackendConfig `yaml:"backends"`
		Context        ContextConfig            `yaml:"context"`
		Git            GitConfig                `yaml:"git"`
		Metrics        struct {
			Enabled *bool  `yaml:"enabled"`
			Path    string `yaml:"path"`
		} `yaml:"metrics"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.Model != "" {
		cfg.Model = yamlCfg.Model
	}
	if yamlCfg.MaxAttempts != 0 {
		cfg.MaxAttempts = yamlCfg.MaxAttempts
	}
	if yamlCfg.MaxDepth != 0 {
		cfg.MaxDepth = yamlCfg.MaxDepth
	}
	if yamlCfg.MaxTasks != 0 {
		cfg.MaxTasks = yamlCfg.MaxTasks
	}
	if yamlCfg.TestTimeout != "" {
		d, err := time.ParseDuration(yamlCfg.TestTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid test_timeout format %q: %w", yamlCfg.TestTimeout, err)
		}
		cfg.TestTimeout = d
	}
	if yamlCfg.BackendTimeout != "" {
		d, err := time.ParseDuration(yamlCfg.BackendTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid backend_timeout format %q: %w", yamlCfg.BackendTimeout, err)
		}
		cfg.BackendTimeout = d
	}
	if yamlCfg.RateLimitWait != "" {
		d, err := time.ParseDuration(yamlCfg.RateLimitWait)
		if err != nil {
			return nil, fmt.Errorf("invalid rate_limit_wait format %q: %w", yamlCfg.RateLimitWait, err)
		}
		cfg.RateLimitWait = d
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.StorePath != "" {
		cfg.StorePath = yamlCfg.StorePath
	}
	if yamlCfg.HistoryPath != "" {
		cfg.HistoryPath = yamlCfg.HistoryPath
	}
	for name, b := range yamlCfg.Backends {
		cfg.Backends[name] = b
	}

	if yamlCfg.Context.MaxTokens != 0 {
		cfg.Context.MaxTokens = yamlCfg.Context.MaxTokens
	}
	if yamlCfg.Context.MaxFileBytes != 0 {
		cfg.Context.MaxFileBytes = yamlCfg.Context.MaxFileBytes
	}
	if yamlCfg.Context.Include != nil {
		cfg.Context.Include = yamlCfg.Context.Include
	}
	if yamlCfg.Context.Exclude != nil {
		// user excludes extend the built-in list; the state dir must stay hidden
		cfg.Context.Exclude = append(cfg.Context.Exclude, yamlCfg.Context.Exclude...)
	}
	if yamlCfg.Context.Tokenizer != "" {
		cfg.Context.Tokenizer = yamlCfg.Context.Tokenizer
	}

	if yamlCfg.Git.AuthorName != "" {
		cfg.Git.AuthorName = yamlCfg.Git.AuthorName
	}
	if yamlCfg.Git.AuthorEmail != "" {
		cfg.Git.AuthorEmail = yamlCfg.Git.AuthorEmail
	}

	if yamlCfg.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *yamlCfg.Metrics.Enabled
	}
	if yamlCfg.Metrics.Path != "" {
		cfg.Metrics.Path = yamlCfg.Metrics.Path
	}

	return cfg, nil
}

// ConfigPath returns the default config location for a project.
func ConfigPath(projectDir string) string {
	return filepath.Join(projectDir, StateDirName, "config.yaml")
}

// LoadConfigFromDir loads configuration from .autocoder/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(ConfigPath(dir))
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(model *string, maxAttempts *int, maxTasks *int, testTimeout *time.Duration, logLevel *string, logDir *string) {
	if model != nil {
		c.Model = *model
	}
	if maxAttempts != nil {
		c.MaxAttempts = *maxAttempts
	}
	if maxTasks != nil {
		c.MaxTasks = *maxTasks
	}
	if testTimeout != nil {
		c.TestTimeout = *testTimeout
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
}

// Resolve anchors relative paths at projectDir.
func (c *Config) Resolve(projectDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(projectDir, p)
	}
	c.LogDir = abs(c.LogDir)
	c.StorePath = abs(c.StorePath)
	c.HistoryPath = abs(c.HistoryPath)
	c.Metrics.Path = abs(c.Metrics.Path)
}

// CheckStatePaths rejects run artifacts that land inside projectDir but
// outside its state directory. Task commits stage the whole tree, and only
// the state directory is ignored. Paths outside the project are allowed.
func (c *Config) CheckStatePaths(projectDir string) error {
	root, err := filepath.Abs(projectDir)
	if err != nil {
		return err
	}
	stateDir := filepath.Join(root, StateDirName)
	paths := []struct{ key, path string }{
		{"log_dir", c.LogDir},
		{"store_path", c.StorePath},
		{"history_path", c.HistoryPath},
		{"metrics.path", c.Metrics.Path},
	}
	for _, p := range paths {
		if p.path == "" {
			continue
		}
		abs := p.path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, abs)
		}
		if within(root, abs) && !within(stateDir, abs) {
			return fmt.Errorf("%s %q must be inside %s/ or outside the project", p.key, p.path, StateDirName)
		}
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(p))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Backend resolves a --model value. It accepts a configured backend name,
// a bare provider name, or "provider:model".
func (c *Config) Backend(name string) (BackendConfig, error) {
	if name == "" {
		name = c.Model
	}
	if b, ok := c.Backends[name]; ok {
		return withProviderDefaults(b), nil
	}
	provider, model, found := strings.Cut(name, ":")
	if found && isProvider(provider) {
		b := BackendConfig{Provider: provider, Model: model}
		if base, ok := c.Backends[provider]; ok && base.Provider == provider {
			b = base
			b.Model = model
		}
		return withProviderDefaults(b), nil
	}
	return BackendConfig{}, fmt.Errorf("unknown model %q, configured backends: %s", name, strings.Join(c.backendNames(), ", "))
}

func withProviderDefaults(b BackendConfig) BackendConfig {
	switch b.Provider {
	case ProviderClaude:
		if b.Binary == "" {
			b.Binary = "claude"
		}
	case ProviderOpenCode:
		if b.Binary == "" {
			b.Binary = "opencode"
		}
	case ProviderOpenAI:
		if b.APIKeyEnv == "" {
			b.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	return b
}

func isProvider(p string) bool {
	return p == ProviderClaude || p == ProviderOpenCode || p == ProviderOpenAI
}

func (c *Config) backendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for n := range c.Backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be >= 1, got %d", c.MaxDepth)
	}
	if c.MaxTasks < 0 {
		return fmt.Errorf("max_tasks must be >= 0, got %d", c.MaxTasks)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	// 0 disables the timeout; negative is invalid
	if c.TestTimeout < 0 {
		return fmt.Errorf("test_timeout must be >= 0, got %v", c.TestTimeout)
	}
	if c.BackendTimeout < 0 {
		return fmt.Errorf("backend_timeout must be >= 0, got %v", c.BackendTimeout)
	}
	if c.RateLimitWait < 0 {
		return fmt.Errorf("rate_limit_wait must be >= 0, got %v", c.RateLimitWait)
	}

	if c.Context.MaxTokens <= 0 {
		return fmt.Errorf("context.max_tokens must be > 0, got %d", c.Context.MaxTokens)
	}
	if c.Context.Tokenizer != "tiktoken" && c.Context.Tokenizer != "estimate" {
		return fmt.Errorf("invalid context.tokenizer %q, must be tiktoken or estimate", c.Context.Tokenizer)
	}

	for name, b := range c.Backends {
		if !isProvider(b.Provider) {
			return fmt.Errorf("backend %q: unknown provider %q", name, b.Provider)
		}
	}
	if _, err := c.Backend(c.Model); err != nil {
		return err
	}
	return nil
}
