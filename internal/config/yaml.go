package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cptrest/cptrest/internal/model"
)

// YAMLConfig represents the top-level cptrest configuration file.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	Relations RelationsConfig `yaml:"relations"`
	PostTypes []PostTypeYAML  `yaml:"post_types"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host               string     `yaml:"host"`
	Port               int        `yaml:"port"`
	ShutdownTimeout    string     `yaml:"shutdown_timeout"`
	PublicURL          string     `yaml:"public_url"`
	RateLimitPerMinute int        `yaml:"rate_limit_per_minute"`
	Metrics            bool       `yaml:"metrics"`
	CORS               CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// StoreConfig selects the host database.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

// AuthConfig controls admin sessions and key issuance.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	SessionTTL   string `yaml:"session_ttl"`
	KeyRateLimit int    `yaml:"key_rate_limit"`
}

// RelationsConfig selects the relationship provider and seeds its
// definitions.
type RelationsConfig struct {
	Provider    string             `yaml:"provider"`
	Definitions []RelationshipYAML `yaml:"definitions,omitempty"`
}

// RelationshipYAML declares a relationship definition. Zero or negative
// limits mean unbounded.
type RelationshipYAML struct {
	Slug        string   `yaml:"slug"`
	Name        string   `yaml:"name"`
	ParentTypes []string `yaml:"parent_types"`
	ChildTypes  []string `yaml:"child_types"`
	ParentMax   int      `yaml:"parent_max"`
	ChildMax    int      `yaml:"child_max"`
}

// PostTypeYAML registers a post type with the host registry at startup.
type PostTypeYAML struct {
	Name              string   `yaml:"name"`
	Label             string   `yaml:"label"`
	Description       string   `yaml:"description"`
	Public            bool     `yaml:"public"`
	PubliclyQueryable bool     `yaml:"publicly_queryable"`
	ShowUI            bool     `yaml:"show_ui"`
	Meta              []string `yaml:"meta"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			Metrics:         true,
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
		},
		Auth: AuthConfig{
			SessionTTL:   "12h",
			KeyRateLimit: 10,
		},
		Relations: RelationsConfig{
			Provider: "none",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Seed registers the configured post types, their meta allowlists and the
// relationship definitions with the store. It is idempotent: existing
// relationship definitions are left as they are.
func (c *YAMLConfig) Seed(ctx context.Context, s *Store) error {
	for _, p := range c.PostTypes {
		if p.Name == "" {
			return fmt.Errorf("post type without a name")
		}
		label := p.Label
		if label == "" {
			label = p.Name
		}
		if err := s.UpsertPostType(ctx, model.PostType{
			Name:              p.Name,
			Label:             label,
			Description:       p.Description,
			Public:            p.Public,
			PubliclyQueryable: p.PubliclyQueryable,
			ShowUI:            p.ShowUI,
		}); err != nil {
			return fmt.Errorf("seed post type %q: %w", p.Name, err)
		}
		for _, key := range p.Meta {
			if err := s.RegisterMeta(ctx, p.Name, key); err != nil {
				return fmt.Errorf("seed meta %q for %q: %w", key, p.Name, err)
			}
		}
	}

	for _, r := range c.Relations.Definitions {
		rel := model.Relationship{
			Slug:        r.Slug,
			Name:        r.Name,
			ParentTypes: r.ParentTypes,
			ChildTypes:  r.ChildTypes,
			Cardinality: model.Cardinality{ParentMax: limit(r.ParentMax), ChildMax: limit(r.ChildMax)},
			IsActive:    true,
		}
		if err := s.CreateRelationship(ctx, rel); err != nil && !errors.Is(err, ErrExists) {
			return fmt.Errorf("seed relationship %q: %w", r.Slug, err)
		}
	}
	return nil
}

func limit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
