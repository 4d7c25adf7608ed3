/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"

	"github.com/echomind/echomind/pkg/utils"
)

// AppConfig is the config definition for this app
type AppConfig struct {
	// Debug mode enabled or not
	Debug bool `mapstructure:"debug"`

	// Port of the HTTP server
	Port int `mapstructure:"port"`

	// DB configuration
	DB *DatabaseConfig `mapstructure:"db"`

	// Embedding configuration for the vector pipeline
	Embedding *EmbeddingConfig `mapstructure:"embedding"`

	// Profile configuration for quick-pass soulprint generation
	Profile *ProfileConfig `mapstructure:"profile"`

	// Importer configuration for the ingestion pipeline
	Importer *ImporterConfig `mapstructure:"importer"`

	// Retrieval configuration for memory search
	Retrieval *RetrievalConfig `mapstructure:"retrieval"`

	// Storage configuration for raw export blobs
	Storage *StorageConfig `mapstructure:"storage"`

	// Auth configuration for HTTP Basic Auth
	Auth *AuthConfig `mapstructure:"auth"`
}

// AuthConfig is the config definition for HTTP Basic Auth
type AuthConfig struct {
	// Enabled indicates whether HTTP Basic Auth is enabled
	Enabled bool `mapstructure:"enabled"`

	// Username for HTTP Basic Auth
	Username string `mapstructure:"username"`

	// Password for HTTP Basic Auth
	Password string `mapstructure:"password"`
}

// EmbeddingConfig is the config definition for the embedding model used
// by ingestion and retrieval. Both passes must use the same model: the
// model name is stored as a tag next to every vector and similarity
// search is scoped to it.
type EmbeddingConfig struct {
	// BaseURL is the base URL of the embedding API (OpenAI-compatible)
	BaseURL string `mapstructure:"baseUrl"`

	// APIKey is the API key for the embedding API
	APIKey string `mapstructure:"apiKey"`

	// Model is the embedding model name
	Model string `mapstructure:"model"`

	// Dimensions of the embedding vectors
	Dimensions int `mapstructure:"dimensions"`

	// BatchSize is the maximum number of texts per provider call
	BatchSize int `mapstructure:"batchSize"`

	// MaxInputChars caps each text before submission; longer texts are
	// truncated, never dropped
	MaxInputChars int `mapstructure:"maxInputChars"`

	// MaxAttempts for transient failures before giving up
	MaxAttempts int `mapstructure:"maxAttempts"`

	// BaseDelayMs is the backoff base delay in milliseconds
	BaseDelayMs int `mapstructure:"baseDelayMs"`

	// CostPer1KTokens is the per-1k-token price used for cost accounting
	CostPer1KTokens float64 `mapstructure:"costPer1kTokens"`

	// FailureThreshold is the consecutive-failure count that opens the
	// circuit breaker
	FailureThreshold int `mapstructure:"failureThreshold"`

	// CooldownSeconds is how long the breaker stays open before probing
	CooldownSeconds int `mapstructure:"cooldownSeconds"`
}

// ProfileConfig is the config definition for the quick-pass soulprint
// generator (Anthropic API)
type ProfileConfig struct {
	// BaseURL overrides the Anthropic API endpoint, empty for default
	BaseURL string `mapstructure:"baseUrl"`

	// APIKey is the API key for the Anthropic API
	APIKey string `mapstructure:"apiKey"`

	// Model is the model used for quick-pass analysis
	Model string `mapstructure:"model"`

	// MaxTokens for the quick-pass completion
	MaxTokens int `mapstructure:"maxTokens"`
}

// ImporterConfig is the config definition for the ingestion pipeline
type ImporterConfig struct {
	// QuickPassTimeoutSeconds is the hard wall-clock budget for the
	// blocking quick pass
	QuickPassTimeoutSeconds int `mapstructure:"quickPassTimeoutSeconds"`

	// ChunkMaxChars caps chunk content length
	ChunkMaxChars int `mapstructure:"chunkMaxChars"`

	// RecencyWindowDays marks chunks from conversations newer than this
	// window as recent
	RecencyWindowDays int `mapstructure:"recencyWindowDays"`

	// RecentConversationCount marks the newest N conversations as recent
	// regardless of age
	RecentConversationCount int `mapstructure:"recentConversationCount"`

	// StoreBatchSize is the number of chunks per database upsert batch
	StoreBatchSize int `mapstructure:"storeBatchSize"`
}

// RetrievalConfig is the config definition for memory search. Boost and
// cap values are tunables, not contracts.
type RetrievalConfig struct {
	// TopK is the default result count
	TopK int `mapstructure:"topK"`

	// MinSimilarity filters out weak matches (cosine similarity)
	MinSimilarity float64 `mapstructure:"minSimilarity"`

	// RecencyBoost is added to the score of recent chunks before ranking
	RecencyBoost float64 `mapstructure:"recencyBoost"`

	// PerConversationCap limits how many chunks one conversation may
	// contribute to a result set
	PerConversationCap int `mapstructure:"perConversationCap"`
}

// StorageConfig is the config definition for the raw export blob store
type StorageConfig struct {
	// Dir is the root directory for stored exports
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig is the config definition for database connection, only
// postgresql with the pgvector extension is supported
type DatabaseConfig struct {
	// Host of the database server
	Host string `mapstructure:"host"`

	// Port of the database server
	Port int `mapstructure:"port"`

	// Username for database authentication
	Username string `mapstructure:"username"`

	// Password for database authentication
	Password string `mapstructure:"password"`

	// Database name
	Database string `mapstructure:"database"`
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = 5432
	}
	if c.Username == "" {
		c.Username = "postgres"
	}
	if c.Password == "" {
		return fmt.Errorf("database password is required")
	}
	if c.Database == "" {
		c.Database = "echomind"
	}
	return nil
}

func (c *EmbeddingConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("embedding config is required")
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimensions <= 0 {
		c.Dimensions = 1536
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 96
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = 8000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelayMs <= 0 {
		c.BaseDelayMs = 1000
	}
	if c.CostPer1KTokens <= 0 {
		c.CostPer1KTokens = 0.00002
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 2
	}
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = 30
	}
	return nil
}

func (c *ProfileConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.Model == "" {
		c.Model = "claude-haiku-4-5"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8192
	}
	return nil
}

func (c *ImporterConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("importer config is required")
	}
	if c.QuickPassTimeoutSeconds <= 0 {
		c.QuickPassTimeoutSeconds = 45
	}
	if c.ChunkMaxChars <= 0 {
		c.ChunkMaxChars = 3000
	}
	if c.RecencyWindowDays <= 0 {
		c.RecencyWindowDays = 180
	}
	if c.RecentConversationCount <= 0 {
		c.RecentConversationCount = 100
	}
	if c.StoreBatchSize <= 0 {
		c.StoreBatchSize = 50
	}
	return nil
}

func (c *RetrievalConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("retrieval config is required")
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.5
	}
	if c.RecencyBoost <= 0 {
		c.RecencyBoost = 0.15
	}
	if c.PerConversationCap <= 0 {
		c.PerConversationCap = 2
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("storage config is required")
	}
	if c.Dir == "" {
		c.Dir = "./data/imports"
	}
	cleaned, err := utils.GetCleanPath(c.Dir)
	if err != nil {
		return fmt.Errorf("invalid storage dir '%s': %w", c.Dir, err)
	}
	c.Dir = cleaned
	return nil
}

func (c *AuthConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Username == "" {
		return fmt.Errorf("auth username is required when auth is enabled")
	}
	if c.Password == "" {
		return fmt.Errorf("auth password is required when auth is enabled")
	}
	return nil
}

func (c *AppConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}

	if c.Embedding == nil {
		c.Embedding = &EmbeddingConfig{}
	}
	if c.Importer == nil {
		c.Importer = &ImporterConfig{}
	}
	if c.Retrieval == nil {
		c.Retrieval = &RetrievalConfig{}
	}
	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}

	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("invalid embedding config: %w", err)
	}
	if err := c.Profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile config: %w", err)
	}
	if err := c.Importer.Validate(); err != nil {
		return fmt.Errorf("invalid importer config: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("invalid retrieval config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}

	return c.DB.Validate()
}
