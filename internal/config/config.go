package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"agentgraph/internal/domain"
	"agentgraph/internal/relgraph"
)

// Config models agentgraph.yml.
type Config struct {
	Tasks struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"tasks"`
	Ledger struct {
		EnforceRelationshipPolicy bool `yaml:"enforce_relationship_policy"`
		MaxChainDepth             int  `yaml:"max_chain_depth"`
	} `yaml:"ledger"`
	Relationships struct {
		Defaults map[domain.RelationshipType]relgraph.Policy `yaml:"defaults"`
	} `yaml:"relationships"`
	Snapshot struct {
		Path       string `yaml:"path"`
		AutoExport bool   `yaml:"auto_export"`
	} `yaml:"snapshot"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with agentgraph config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tasks.MaxAttempts < 1 {
		return fmt.Errorf("config.tasks.max_attempts must be at least 1")
	}
	if c.Ledger.MaxChainDepth < 1 {
		return fmt.Errorf("config.ledger.max_chain_depth must be at least 1")
	}
	known := relgraph.DefaultPolicies()
	for typ, p := range c.Relationships.Defaults {
		if _, ok := known[typ]; !ok {
			return fmt.Errorf("config.relationships.defaults has unknown type %s", typ)
		}
		if p.AuthorityDelta < -5 || p.AuthorityDelta > 5 {
			return fmt.Errorf("relationship default %s authority_delta must be within -5..5", typ)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for i, wh := range c.Webhooks {
		u, err := url.Parse(wh.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
	}
	return nil
}

// Policies merges configured relationship defaults over the built-in ones.
func (c *Config) Policies() map[domain.RelationshipType]relgraph.Policy {
	out := relgraph.DefaultPolicies()
	for typ, p := range c.Relationships.Defaults {
		out[typ] = p
	}
	return out
}

// SnapshotPath resolves the snapshot file relative to the workspace.
func (c *Config) SnapshotPath(workspace string) string {
	p := c.Snapshot.Path
	if p == "" {
		p = filepath.Join(".agentgraph", "snapshot.jsonl")
	}
	if filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agentgraph.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes over the defaults and
// validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tasks:
  max_attempts: 3

ledger:
  # reject interactions that break their relationship's policy;
  # when false, violations are logged and flagged on the interaction
  enforce_relationship_policy: true
  max_chain_depth: 256

relationships:
  defaults:
    delegation:
      authority_delta: 1
      bidirectional: false
      auto_approval: true
    collaboration:
      authority_delta: 0
      bidirectional: true
      auto_approval: true
    review:
      authority_delta: 1
      bidirectional: false
      auto_approval: false
    escalation:
      authority_delta: -2
      bidirectional: false
      auto_approval: false
    consultation:
      authority_delta: 0
      bidirectional: true
      auto_approval: true
    dependency:
      authority_delta: 0
      bidirectional: false
      auto_approval: true
    supervision:
      authority_delta: 2
      bidirectional: false
      auto_approval: true

snapshot:
  path: .agentgraph/snapshot.jsonl
  auto_export: false

log:
  level: info
  format: text

server:
  addr: 127.0.0.1:8080
  base_path: /v1

webhooks: []
`
