package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Model is one remote completion endpoint the service can talk to.
type Model struct {
	URL               string `json:"url"`
	Endpoint          string `json:"endpoint"`
	ModelType         string `json:"model_type"`
	APIKey            string `json:"api_key"`
	Timeout           int    `json:"timeout"`             // seconds; <=0 waits forever
	AuthLevelRequired int    `json:"auth_level_required"` // userconf "unity"/"auth_level"
	MaxContext        int    `json:"max_context"`         // messages; <=0 unbounded
	Stream            bool   `json:"stream"`
}

type Config struct {
	DataDir      string `json:"data_dir"`
	LogLevel     string `json:"log_level"`
	DefaultModel string `json:"default_model"`
	Store        struct {
		Workers   int `json:"workers"`
		TimeoutMS int `json:"timeout_ms"`
	} `json:"store"`
	Models   map[string]Model `json:"models"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

func defaults() *Config {
	cfg := &Config{
		DataDir:      filepath.Join(os.Getenv("HOME"), ".chatkeeper"),
		LogLevel:     "info",
		DefaultModel: "default",
	}
	cfg.Store.Workers = 4
	cfg.Store.TimeoutMS = 1000
	cfg.Models = map[string]Model{
		"default": {
			URL:        "https://api.openai.com/",
			Endpoint:   "v1/chat/completions",
			ModelType:  "gpt-4o-mini",
			Timeout:    -1,
			MaxContext: -1,
		},
	}
	return cfg
}

// Load reads the config file, writing one with defaults if it does not
// exist yet. Environment variables take highest precedence. A file that
// exists but cannot be parsed is fatal, never overwritten.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	if apiKey := os.Getenv("CHATKEEPER_API_KEY"); apiKey != "" {
		for name, m := range cfg.Models {
			m.APIKey = apiKey
			cfg.Models[name] = m
		}
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Model returns the named model configuration, or the default one for
// an empty name.
func (c *Config) Model(name string) (Model, error) {
	if name == "" {
		name = c.DefaultModel
	}
	m, ok := c.Models[name]
	if !ok {
		return Model{}, fmt.Errorf("config: unknown model %q", name)
	}
	return m, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
