// Package config loads settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/repoexplain/internal/chunker"
	"github.com/dshills/repoexplain/internal/embedder"
	"github.com/dshills/repoexplain/internal/fetcher"
	"github.com/dshills/repoexplain/internal/generation"
	"github.com/dshills/repoexplain/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. REPOEXPLAIN_STORE_BACKEND
const EnvPrefix = "REPOEXPLAIN"

// Config holds all application configuration
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Chunk      ChunkConfig      `mapstructure:"chunk"`
	Embed      EmbedConfig      `mapstructure:"embed"`
	Store      StoreConfig      `mapstructure:"store"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Generation GenerationConfig `mapstructure:"generation"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GitHubConfig struct {
	Token       string   `mapstructure:"token"`
	RawDir      string   `mapstructure:"raw_dir"`
	Workers     int      `mapstructure:"workers"`
	MaxFileSize int64    `mapstructure:"max_file_size"`
	Extensions  []string `mapstructure:"extensions"`
	Excludes    []string `mapstructure:"excludes"`
}

type ChunkConfig struct {
	SizeTokens    int `mapstructure:"size_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens"`
}

type EmbedConfig struct {
	Model         string `mapstructure:"model"`
	BatchSize     int    `mapstructure:"batch_size"`
	CacheSize     int    `mapstructure:"cache_size"`
	CachePath     string `mapstructure:"cache_path"` // bbolt file; empty disables the persistent cache
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	JinaAPIKey    string `mapstructure:"jina_api_key"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key"`
}

type StoreConfig struct {
	Backend     string        `mapstructure:"backend"`
	Location    string        `mapstructure:"location"`
	Collection  string        `mapstructure:"collection"`
	QdrantAddr  string        `mapstructure:"qdrant_addr"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type RetrievalConfig struct {
	K         int `mapstructure:"k"`
	CacheSize int `mapstructure:"cache_size"`
}

type GenerationConfig struct {
	Backend     string  `mapstructure:"backend"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	NCtx        int     `mapstructure:"n_ctx"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("github.raw_dir", "data/raw")
	v.SetDefault("github.workers", fetcher.DefaultWorkers)
	v.SetDefault("github.max_file_size", fetcher.DefaultMaxFileSize)
	v.SetDefault("github.extensions", fetcher.DefaultExtensions)
	v.SetDefault("github.excludes", fetcher.DefaultExcludes)

	v.SetDefault("chunk.size_tokens", chunker.DefaultChunkSizeTokens)
	v.SetDefault("chunk.overlap_tokens", chunker.DefaultOverlapTokens)

	v.SetDefault("embed.model", embedder.ProviderLocal+":"+embedder.DefaultLocalModel)
	v.SetDefault("embed.batch_size", embedder.DefaultBatchSize)
	v.SetDefault("embed.cache_size", 1000)
	v.SetDefault("embed.cache_path", "")

	v.SetDefault("store.backend", storage.BackendSQLite)
	v.SetDefault("store.location", "./vector_store")
	v.SetDefault("store.collection", "repo_embeddings")
	v.SetDefault("store.qdrant_addr", "localhost:6334")
	v.SetDefault("store.dial_timeout", 5*time.Second)

	v.SetDefault("retrieval.k", 5)
	v.SetDefault("retrieval.cache_size", 256)

	v.SetDefault("generation.backend", generation.BackendOpenAI)
	v.SetDefault("generation.base_url", generation.DefaultBaseURL)
	v.SetDefault("generation.model", generation.DefaultModel)
	v.SetDefault("generation.temperature", generation.DefaultTemperature)
	v.SetDefault("generation.top_p", generation.DefaultTopP)
	v.SetDefault("generation.max_tokens", generation.DefaultMaxTokens)
	v.SetDefault("generation.n_ctx", 4096)
}

// conventionalEnv maps keys to the unprefixed variables other tools use.
// The prefixed form still wins when both are set.
var conventionalEnv = map[string]string{
	"github.token":         "GITHUB_TOKEN",
	"generation.api_key":   "GROQ_API_KEY",
	"embed.openai_api_key": embedder.EnvOpenAIAPIKey,
	"embed.jina_api_key":   embedder.EnvJinaAPIKey,
	"embed.gemini_api_key": embedder.EnvGeminiAPIKey,
}

func bindEnv(v *viper.Viper) error {
	for key, env := range conventionalEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return err
		}
	}
	return nil
}

// Load reads configuration from path (optional) and the environment
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.ValidateStrict(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate returns warnings about settings that work but are probably wrong
func (c *Config) Validate() []string {
	var warnings []string

	if c.Generation.Backend == generation.BackendOpenAI && c.Generation.APIKey == "" &&
		c.Generation.BaseURL == generation.DefaultBaseURL {
		warnings = append(warnings, "generation api_key is empty; set GROQ_API_KEY to use the hosted backend")
	}
	if c.Generation.Backend == generation.BackendGemini && c.Embed.GeminiAPIKey == "" {
		warnings = append(warnings, "generation backend 'gemini' is configured but GEMINI_API_KEY is empty")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("generation temperature %.2f is outside recommended range [0.0, 2.0]", c.Generation.Temperature))
	}
	if c.Generation.MaxTokens >= c.Generation.NCtx {
		warnings = append(warnings, fmt.Sprintf("generation max_tokens %d leaves no room in n_ctx %d", c.Generation.MaxTokens, c.Generation.NCtx))
	}
	if c.Embed.BatchSize > embedder.MaxBatchSize {
		warnings = append(warnings, fmt.Sprintf("embed batch_size %d is above the provider limit %d and will be capped", c.Embed.BatchSize, embedder.MaxBatchSize))
	}
	return warnings
}

// ValidateStrict returns an error for settings no command can run with
func (c *Config) ValidateStrict() error {
	var errs []error
	if err := c.ChunkOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend {
	case storage.BackendSQLite, storage.BackendQdrant, storage.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Store.Collection == "" {
		errs = append(errs, errors.New("store collection is required"))
	}
	if c.Retrieval.K <= 0 {
		errs = append(errs, fmt.Errorf("retrieval k must be > 0, got %d", c.Retrieval.K))
	}
	return errors.Join(errs...)
}

// ChunkOptions returns the chunker sizing
func (c *Config) ChunkOptions() chunker.Options {
	return chunker.Options{ChunkSizeTokens: c.Chunk.SizeTokens, OverlapTokens: c.Chunk.OverlapTokens}
}

// EmbedderConfig returns the embedder settings. The persistent cache is
// opened by the caller from Embed.CachePath.
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		OpenAIAPIKey:  c.Embed.OpenAIAPIKey,
		OpenAIBaseURL: c.Embed.OpenAIBaseURL,
		JinaAPIKey:    c.Embed.JinaAPIKey,
		GeminiAPIKey:  c.Embed.GeminiAPIKey,
		CacheSize:     c.Embed.CacheSize,
	}
}

// StorageConfig returns the store backend selection
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Backend:     c.Store.Backend,
		QdrantAddr:  c.Store.QdrantAddr,
		DialTimeout: c.Store.DialTimeout,
	}
}

// GeneratorConfig returns the generation backend settings. The Groq default
// model is dropped for gemini so that backend picks its own.
func (c *Config) GeneratorConfig() generation.Config {
	model := c.Generation.Model
	if c.Generation.Backend == generation.BackendGemini && model == generation.DefaultModel {
		model = ""
	}
	return generation.Config{
		Backend:      c.Generation.Backend,
		BaseURL:      c.Generation.BaseURL,
		APIKey:       c.Generation.APIKey,
		GeminiAPIKey: c.Embed.GeminiAPIKey,
		Params: generation.Params{
			Model:       model,
			Temperature: c.Generation.Temperature,
			TopP:        c.Generation.TopP,
			MaxTokens:   c.Generation.MaxTokens,
		},
	}
}

// FetchOptions returns the fetcher settings
func (c *Config) FetchOptions() fetcher.FetchOptions {
	return fetcher.FetchOptions{
		Workers: c.GitHub.Workers,
		Filter: fetcher.FilterOptions{
			Extensions:  c.GitHub.Extensions,
			MaxFileSize: c.GitHub.MaxFileSize,
			Excludes:    c.GitHub.Excludes,
		},
	}
}
