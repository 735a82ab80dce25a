package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
	Language  LanguageConfig  `yaml:"language"`
	Indexer   IndexerConfig   `yaml:"indexer,omitempty"`
	Search    SearchConfig    `yaml:"search,omitempty"`
	Memory    MemoryConfig    `yaml:"memory,omitempty"`
	Explain   ExplainConfig   `yaml:"explain,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
}

// DatabaseConfig holds index persistence configuration
type DatabaseConfig struct {
	// Root directory holding one <fingerprint> directory per document.
	// If empty, uses ~/.pdfchat/data
	Root string `yaml:"root,omitempty"`
}

// EmbeddingConfig holds embedding service configuration
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "ollama" | "openai" | "volcengine"

	// Shared by ollama and volcengine
	APIKey   string `yaml:"api_key,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Model    string `yaml:"model,omitempty"`

	// OpenAI specific
	OpenAIAPIKey string `yaml:"openai_api_key,omitempty"`
	OpenAIModel  string `yaml:"openai_model,omitempty"`

	// Embedding parameters
	Dimensions     int    `yaml:"dimensions,omitempty"`      // volcengine: 1024 | 2048
	BatchSize      int    `yaml:"batch_size,omitempty"`      // Batch size for embedding
	EncodingFormat string `yaml:"encoding_format,omitempty"` // "float" | "base64"
}

// ChatConfig holds chat model configuration
type ChatConfig struct {
	Provider    string  `yaml:"provider"` // "ollama" | "openai" | "gemini" | "ark"
	APIKey      string  `yaml:"api_key,omitempty"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty"`
	TimeoutSec  int     `yaml:"timeout_sec,omitempty"`
}

// LanguageConfig holds the learner's languages
type LanguageConfig struct {
	Target       string `yaml:"target"`        // language of the document being read
	MotherTongue string `yaml:"mother_tongue"` // language used for mother-tongue explanations
}

// IndexerConfig holds chunking and build configuration
type IndexerConfig struct {
	ChunkSize    int `yaml:"chunk_size,omitempty"`
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`
	MaxWorkers   int `yaml:"max_workers,omitempty"` // Maximum concurrent embedding batches
}

// SearchConfig holds retrieval configuration
type SearchConfig struct {
	TopK          int     `yaml:"top_k,omitempty"`          // Chunks handed to the answer step
	VectorWeight  float32 `yaml:"vector_weight,omitempty"`  // Vector search weight (0-1)
	KeywordWeight float32 `yaml:"keyword_weight,omitempty"` // Keyword search weight (0-1)
}

// MemoryConfig holds conversation memory configuration
type MemoryConfig struct {
	MaxTurns int `yaml:"max_turns,omitempty"`
}

// ExplainConfig holds explain request configuration
type ExplainConfig struct {
	Stream             *bool  `yaml:"stream,omitempty"`
	TargetPrompt       string `yaml:"target_prompt,omitempty"`
	MotherTonguePrompt string `yaml:"mother_tongue_prompt,omitempty"`
}

// StreamEnabled reports whether explanations are streamed fragment by fragment.
func (e ExplainConfig) StreamEnabled() bool {
	return e.Stream == nil || *e.Stream
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // logrus level name
	Format string `yaml:"format,omitempty"` // "text" | "json"
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // e.g. ":9464"; empty disables the endpoint
}

const (
	DefaultTargetPrompt = `You are a language tutor. The learner is reading a text written in {language}.
Explain the meaning of "{word}" as it is used in the context below.
Answer in {answer_language}. Keep it short: meaning, usage in this context, and one example sentence.

Context:
{data}`

	DefaultMotherTonguePrompt = `You are a language tutor. The learner is reading a text written in {language}.
Explain the word or phrase "{word}" as it is used in the context below, so that a native {answer_language} speaker understands it.
Answer in {answer_language}. Give a translation, the meaning in this context, and one example sentence in {language} with its translation.

Context:
{data}`
)

// DefaultPath returns ~/.pdfchat/config/pdfchat.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pdfchat", "config", "pdfchat.yaml"), nil
}

// Load loads configuration from the default config file
func Load() (*Config, error) {
	configPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromFile(configPath)
}

// LoadFromFile loads configuration from a specific file.
// A .env file next to the config file (and one in the working directory) is
// loaded first so secrets can be referenced as ${VAR}.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			defaultPath, _ := DefaultPath()
			return nil, &ConfigNotFoundError{
				RequestedPath: path,
				DefaultPath:   defaultPath,
			}
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes yaml, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandSecrets()

	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.applyDefaults()
	return cfg
}

// loadDotEnv loads .env from dir and from the working directory.
// Variables already present in the environment win.
func loadDotEnv(dir string) error {
	candidates := []string{filepath.Join(dir, ".env"), ".env"}
	for _, file := range candidates {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

func (c *Config) expandSecrets() {
	c.Embedding.APIKey = os.ExpandEnv(c.Embedding.APIKey)
	c.Embedding.OpenAIAPIKey = os.ExpandEnv(c.Embedding.OpenAIAPIKey)
	c.Chat.APIKey = os.ExpandEnv(c.Chat.APIKey)
}

// ConfigNotFoundError is returned when config file is not found
type ConfigNotFoundError struct {
	RequestedPath string
	DefaultPath   string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s\n\nDefault location: %s\n\nYou can:\n"+
		"  1. Create the config file at the default location\n"+
		"  2. Specify a custom path with -config flag\n"+
		"  3. Run 'pdfchat index' once to write a default template",
		e.RequestedPath, e.DefaultPath)
}

// IsConfigNotFound checks if error is config not found
func IsConfigNotFound(err error) bool {
	var target *ConfigNotFoundError
	return errors.As(err, &target)
}

// expandPath expands ~ and $HOME to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "$HOME/") || path == "$HOME" {
		homeDir := os.Getenv("HOME")
		if homeDir == "" {
			var err error
			homeDir, err = os.UserHomeDir()
			if err != nil {
				return path
			}
		}
		if path == "$HOME" {
			return homeDir
		}
		return filepath.Join(homeDir, path[6:])
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return homeDir
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() error {
	if c.Database.Root == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.Database.Root = filepath.Join(homeDir, ".pdfchat", "data")
	}
	c.Database.Root = expandPath(c.Database.Root)

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
	}
	switch c.Embedding.Provider {
	case "ollama":
		if c.Embedding.Endpoint == "" {
			c.Embedding.Endpoint = "http://localhost:11434"
		}
		if c.Embedding.Model == "" {
			c.Embedding.Model = "nomic-embed-text"
		}
	case "volcengine":
		if c.Embedding.Model == "" {
			c.Embedding.Model = "doubao-embedding-vision-250615"
		}
		if c.Embedding.Dimensions == 0 {
			c.Embedding.Dimensions = 2048
		}
	case "openai":
		if c.Embedding.OpenAIModel == "" {
			c.Embedding.OpenAIModel = "text-embedding-3-small"
		}
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 10
	}
	if c.Embedding.EncodingFormat == "" {
		c.Embedding.EncodingFormat = "float"
	}

	if c.Chat.Provider == "" {
		c.Chat.Provider = "ollama"
	}
	if c.Chat.Model == "" {
		switch c.Chat.Provider {
		case "ollama":
			c.Chat.Model = "llama3.1"
		case "openai":
			c.Chat.Model = "gpt-4o-mini"
		case "gemini":
			c.Chat.Model = "gemini-1.5-flash"
		case "ark":
			c.Chat.Model = "doubao-1-5-pro-32k-250115"
		}
	}
	if c.Chat.Endpoint == "" {
		switch c.Chat.Provider {
		case "ollama":
			c.Chat.Endpoint = "http://localhost:11434"
		case "ark":
			c.Chat.Endpoint = "https://ark.cn-beijing.volces.com/api/v3/chat/completions"
		}
	}
	if c.Chat.TimeoutSec == 0 {
		c.Chat.TimeoutSec = 120
	}

	if c.Language.Target == "" {
		c.Language.Target = "English"
	}
	if c.Language.MotherTongue == "" {
		c.Language.MotherTongue = "Chinese"
	}

	if c.Indexer.ChunkSize == 0 {
		c.Indexer.ChunkSize = 1000
	}
	if c.Indexer.ChunkOverlap == 0 {
		c.Indexer.ChunkOverlap = 200
	}
	if c.Indexer.MaxWorkers == 0 {
		c.Indexer.MaxWorkers = 4
	}

	if c.Search.TopK == 0 {
		c.Search.TopK = 2
	}
	if c.Search.VectorWeight == 0 && c.Search.KeywordWeight == 0 {
		c.Search.VectorWeight = 1
	}

	if c.Memory.MaxTurns == 0 {
		c.Memory.MaxTurns = 10
	}

	if c.Explain.TargetPrompt == "" {
		c.Explain.TargetPrompt = DefaultTargetPrompt
	}
	if c.Explain.MotherTonguePrompt == "" {
		c.Explain.MotherTonguePrompt = DefaultMotherTonguePrompt
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "ollama":
	case "volcengine":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("volcengine provider requires api_key")
		}
		if c.Embedding.Dimensions != 1024 && c.Embedding.Dimensions != 2048 {
			return fmt.Errorf("dimensions must be 1024 or 2048, got: %d", c.Embedding.Dimensions)
		}
	case "openai":
		if c.Embedding.OpenAIAPIKey == "" {
			return fmt.Errorf("openai provider requires openai_api_key")
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}

	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > 100 {
		return fmt.Errorf("batch_size must be between 1 and 100, got: %d", c.Embedding.BatchSize)
	}

	switch c.Chat.Provider {
	case "ollama":
	case "openai", "gemini", "ark":
		if c.Chat.APIKey == "" {
			return fmt.Errorf("%s chat provider requires chat.api_key", c.Chat.Provider)
		}
	default:
		return fmt.Errorf("unsupported chat provider: %s", c.Chat.Provider)
	}

	if c.Indexer.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got: %d", c.Indexer.ChunkSize)
	}
	if c.Indexer.ChunkOverlap < 0 || c.Indexer.ChunkOverlap >= c.Indexer.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got: %d", c.Indexer.ChunkOverlap)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got: %d", c.Search.TopK)
	}
	if c.Search.VectorWeight < 0 || c.Search.KeywordWeight < 0 {
		return fmt.Errorf("search weights must not be negative")
	}

	if c.Memory.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive, got: %d", c.Memory.MaxTurns)
	}

	return nil
}

// SaveToFile saves the configuration to a specific file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

const defaultConfigTemplate = `# pdfchat configuration
#
# Default location: $HOME/.pdfchat/config/pdfchat.yaml
# Secrets may reference environment variables (${OPENAI_API_KEY}); a .env file
# next to this file is loaded automatically.

database:
  root: ~/.pdfchat/data

embedding:
  # Provider: "ollama", "openai" or "volcengine"
  provider: ollama
  endpoint: http://localhost:11434
  model: nomic-embed-text
  batch_size: 10

  # OpenAI (alternative)
  # provider: openai
  # openai_api_key: ${OPENAI_API_KEY}
  # openai_model: text-embedding-3-small

chat:
  # Provider: "ollama", "openai", "gemini" or "ark"
  provider: ollama
  endpoint: http://localhost:11434
  model: llama3.1

language:
  target: English
  mother_tongue: Chinese

search:
  top_k: 2

memory:
  max_turns: 10

log:
  level: info
`

// WriteDefaultTemplate creates a default configuration file if it does not exist.
// It returns true if a file was created, false if it already existed.
func WriteDefaultTemplate(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return false, fmt.Errorf("failed to write config template: %w", err)
	}

	return true, nil
}
