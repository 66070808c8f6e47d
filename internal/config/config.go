package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Node        NodeConfig        `json:"node"`
	Memory      MemoryConfig      `json:"memory"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	Database    DatabaseConfig    `json:"database"`
	Replication ReplicationConfig `json:"replication"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// NodeConfig identifies this node in attribution records and bundles.
type NodeConfig struct {
	ID string `json:"id"`
}

type MemoryConfig struct {
	// TriggerPolicy is "last_write_wins" (default) or "first_write_wins".
	TriggerPolicy string `json:"trigger_policy"`
}

type EmbeddingConfig struct {
	Provider       string `json:"provider"`
	Endpoint       string `json:"endpoint"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
	Dimension      int    `json:"dimension"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// DatabaseConfig lists the replication sinks. An empty DSN, URI, URL or
// host disables the corresponding sink.
type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL          string `json:"url"`
	StreamMaxLen int64  `json:"stream_max_len"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// ReplicationConfig controls the periodic replication loop. Zero interval
// means replication only runs on demand. FollowPeers is a comma separated
// list of node ids whose published bundles this node imports.
type ReplicationConfig struct {
	IntervalSeconds int    `json:"interval_seconds"`
	FollowPeers     string `json:"follow_peers"`
}

// Peers returns the node ids listed in FollowPeers.
func (r ReplicationConfig) Peers() []string {
	var out []string
	for _, p := range strings.Split(r.FollowPeers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Node.ID == "" {
		c.Node.ID = "node-local"
	}
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = "migrations"
	}
	if c.Database.Redis.StreamMaxLen == 0 {
		c.Database.Redis.StreamMaxLen = 100
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "mer_concepts"
	}
}
