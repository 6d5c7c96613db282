// Package config loads the service's single JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// ResearchConfig governs the watcher's autonomous triggering behavior.
type ResearchConfig struct {
	AutonomousEnabled   bool    `json:"autonomousEnabled"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	SessionCooldownMs   int64   `json:"sessionCooldownMs"`
	MaxResearchPerHour  int     `json:"maxResearchPerHour"`
}

// QueueConfig bounds the background task queue.
type QueueConfig struct {
	MaxConcurrent int   `json:"maxConcurrent"`
	MaxQueueSize  int   `json:"maxQueueSize"`
	TaskTimeoutMs int64 `json:"taskTimeoutMs"`
	RetryAttempts int   `json:"retryAttempts"`
}

// DepthIterations maps a depth label to an iteration budget.
type DepthIterations struct {
	Quick  int `json:"quick"`
	Medium int `json:"medium"`
	Deep   int `json:"deep"`
}

// CrewConfig governs the iterative coordinator loop.
type CrewConfig struct {
	ParallelSpecialists  bool            `json:"parallelSpecialists"`
	DefaultMaxIterations int             `json:"defaultMaxIterations"`
	DepthIterations      DepthIterations `json:"depthIterations"`
}

// URLCacheConfig bounds the URL content cache.
type URLCacheConfig struct {
	TTLMs    int64 `json:"ttlMs"`
	MaxBytes int64 `json:"maxBytes"`
}

// PersistenceConfig configures the embedded store.
type PersistenceConfig struct {
	SQLitePath string         `json:"sqlitePath"`
	URLCache   URLCacheConfig `json:"urlCache"`
}

// QdrantConfig configures the optional vector index.
type QdrantConfig struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"url"`
	Collection   string `json:"collection"`
	APIKey       string `json:"apiKey"`
	EmbeddingURL string `json:"embeddingUrl"`
}

// RedisConfig configures the optional URL-cache hot tier.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// LLMConfig names the gateway backing the coordinator and watcher.
type LLMConfig struct {
	URL         string  `json:"url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

// SessionConfig bounds the per-session activity tracker.
type SessionConfig struct {
	MaxRingEvents int `json:"maxRingEvents"`
}

// SearchConfig points every specialist tool at the shared SearXNG-style
// search backend; providers are differentiated by credential and site
// filter, not by a distinct URL.
type SearchConfig struct {
	BaseURL string `json:"baseUrl"`
}

// CredentialConfig holds opaque per-provider credential names; an empty
// value disables the corresponding tool.
type CredentialConfig struct {
	GeneralSearch   string `json:"generalSearchKey"`
	GeneralSearchB  string `json:"generalSearchBackupKey"`
	CodeSearch      string `json:"codeSearchKey"`
	QAForum         string `json:"qaForumKey"`
	PackageRegistry string `json:"packageRegistryKey"`
	Encyclopedia    string `json:"encyclopediaKey"`
	PaperIndex      string `json:"paperIndexKey"`
	DiscussionForum string `json:"discussionForumKey"`
	VendorDocs      string `json:"vendorDocsKey"`
}

// MemoryBridgeConfig configures the external long-term memory sink.
type MemoryBridgeConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	APIKey  string `json:"apiKey"`
	Tag     string `json:"tag"`
}

// ServerConfig governs the HTTP API surface.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Config is the service's whole configuration surface.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Research     ResearchConfig     `json:"research"`
	Queue        QueueConfig        `json:"queue"`
	Crew         CrewConfig         `json:"crew"`
	Persistence  PersistenceConfig  `json:"persistence"`
	Qdrant       QdrantConfig       `json:"qdrant"`
	Redis        RedisConfig        `json:"redis"`
	LLM          LLMConfig          `json:"llm"`
	Session      SessionConfig      `json:"session"`
	Search       SearchConfig       `json:"search"`
	Credentials  CredentialConfig   `json:"credentials"`
	MemoryBridge MemoryBridgeConfig `json:"memoryBridge"`
}

var (
	once   sync.Once
	cfg    *Config
	cfgErr error
)

// Load reads the config file from disk as a process-wide singleton.
func Load(path string) (*Config, error) {
	once.Do(func() {
		raw, err := os.ReadFile(path)
		if err != nil {
			cfgErr = fmt.Errorf("failed to read config file: %w", err)
			return
		}
		var c Config
		if err := json.Unmarshal(raw, &c); err != nil {
			cfgErr = fmt.Errorf("invalid config format: %w", err)
			return
		}
		applyDefaults(&c)
		cfg = &c
	})
	return cfg, cfgErr
}

// applyDefaults fills in zero-valued fields with sane defaults.
func applyDefaults(c *Config) {
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Research.ConfidenceThreshold == 0 {
		c.Research.ConfidenceThreshold = 0.6
	}
	if c.Research.SessionCooldownMs == 0 {
		c.Research.SessionCooldownMs = 10 * 60 * 1000
	}
	if c.Research.MaxResearchPerHour == 0 {
		c.Research.MaxResearchPerHour = 10
	}
	if c.Queue.MaxConcurrent == 0 {
		c.Queue.MaxConcurrent = 3
	}
	if c.Queue.MaxQueueSize == 0 {
		c.Queue.MaxQueueSize = 50
	}
	if c.Queue.TaskTimeoutMs == 0 {
		c.Queue.TaskTimeoutMs = 5 * 60 * 1000
	}
	if c.Queue.RetryAttempts == 0 {
		c.Queue.RetryAttempts = 2
	}
	if c.Crew.DefaultMaxIterations == 0 {
		c.Crew.DefaultMaxIterations = 5
	}
	if c.Crew.DepthIterations.Quick == 0 {
		c.Crew.DepthIterations.Quick = 1
	}
	if c.Crew.DepthIterations.Medium == 0 {
		c.Crew.DepthIterations.Medium = 2
	}
	if c.Crew.DepthIterations.Deep == 0 {
		c.Crew.DepthIterations.Deep = 4
	}
	if c.Persistence.SQLitePath == "" {
		c.Persistence.SQLitePath = "research.db"
	}
	if c.Persistence.URLCache.TTLMs == 0 {
		c.Persistence.URLCache.TTLMs = 24 * 60 * 60 * 1000
	}
	if c.Persistence.URLCache.MaxBytes == 0 {
		c.Persistence.URLCache.MaxBytes = 256 * 1024 * 1024
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "research_findings"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.MemoryBridge.Tag == "" {
		c.MemoryBridge.Tag = "autonomous-research"
	}
	if c.Session.MaxRingEvents == 0 {
		c.Session.MaxRingEvents = 100
	}
	if c.Search.BaseURL == "" {
		c.Search.BaseURL = "http://searxng:8080/search"
	}
}
