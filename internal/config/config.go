package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"deskline/internal/domain"
)

// Config models deskline.yml.
type Config struct {
	Server struct {
		Addr                 string `yaml:"addr"`
		BasePath             string `yaml:"base_path"`
		OpTimeoutSecs        int    `yaml:"op_timeout_seconds"`
		ValidatorTimeoutSecs int    `yaml:"validator_timeout_seconds"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Audit struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"audit"`
	Fields []domain.Field `yaml:"fields"`
}

type WebhookConfig struct {
	URL     string `yaml:"url"`
	Enabled *bool  `yaml:"enabled"`
}

// OpTimeout returns the configured dispatch timeout.
func (c *Config) OpTimeout() time.Duration {
	if c.Server.OpTimeoutSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.OpTimeoutSecs) * time.Second
}

// ValidatorTimeout returns the per-validator timeout.
func (c *Config) ValidatorTimeout() time.Duration {
	if c.Server.ValidatorTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ValidatorTimeoutSecs) * time.Second
}

// FieldByID looks up a configured field.
func (c *Config) FieldByID(id string) (domain.Field, bool) {
	for _, f := range c.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return domain.Field{}, false
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with dk config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config when the file does not exist.
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, f := range c.Fields {
		if f.ID == "" {
			return fmt.Errorf("config.fields contains a field without id")
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate field id %s", f.ID)
		}
		seen[f.ID] = true
		for i, r := range f.Rules {
			if r.Validator == "" {
				return fmt.Errorf("field %s rule %d has empty validator id", f.ID, i)
			}
			switch r.Level {
			case domain.LevelHard, domain.LevelSoft:
			case "":
				return fmt.Errorf("field %s rule %d missing level", f.ID, i)
			default:
				return fmt.Errorf("field %s rule %d has unknown level %q", f.ID, i, r.Level)
			}
		}
	}
	for i, hook := range c.Audit.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("audit.webhooks[%d] has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "deskline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v0
  op_timeout_seconds: 15
  validator_timeout_seconds: 10

auth:
  jwt_secret: ""

audit:
  webhooks: []

fields:
  - id: curp
    label: CURP
    type: text
    rules:
      - validator: required
        level: hard
      - validator: curp.format
        level: hard

  - id: rfc
    label: RFC
    type: text
    rules:
      - validator: required
        level: soft
      - validator: rfc.format
        level: hard

  - id: email
    label: Correo electrónico
    type: email
    rules:
      - validator: required
        level: hard
      - validator: email.format
        level: hard

  - id: phone
    label: Teléfono
    type: tel
    rules:
      - validator: phone.format
        level: soft

  - id: full_name
    label: Nombre completo
    type: text
    params:
      min: 3
      max: 120
    rules:
      - validator: required
        level: hard
      - validator: length.range
        level: soft
`
