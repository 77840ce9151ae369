// Package config loads the JSON configuration file and edits it by dotted key.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir" validate:"required"`
	LogLevel      string `json:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat     string `json:"log_format" validate:"omitempty,oneof=json console"`
	LogFile       string `json:"log_file"`
	MaxConcurrent int    `json:"max_concurrent" validate:"min=1"`
	Store         struct {
		Driver string `json:"driver" validate:"omitempty,oneof=file sqlite"`
	} `json:"store"`
	LLM struct {
		BaseURL          string  `json:"base_url" validate:"required,url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model" validate:"required"`
		MaxTokens        int     `json:"max_tokens" validate:"min=1"`
		Temperature      float32 `json:"temperature" validate:"gte=0,lte=2"`
		MaxContextTokens int     `json:"max_context_tokens" validate:"gtefield=OutputReserve"`
		OutputReserve    int     `json:"output_reserve" validate:"gte=0"`
	} `json:"llm"`
	Server struct {
		Addr string `json:"addr" validate:"required,hostname_port"`
	} `json:"server"`
	Analysis struct {
		// SweepSchedule is the cron schedule on which the daemon retries
		// analysis of ended sessions. Empty disables the sweep.
		SweepSchedule string `json:"sweep_schedule"`
	} `json:"analysis"`
	Reader struct {
		// Scale converts PDF points to container pixels.
		Scale float64 `json:"scale" validate:"gt=0"`
	} `json:"reader"`
}

// DefaultPath returns ~/.folio/config.json.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".folio", "config.json")
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.Getenv("HOME")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(homeDir(), ".folio"),
		LogLevel:      "info",
		LogFormat:     "console",
		MaxConcurrent: 2,
	}
	cfg.Store.Driver = "file"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.Server.Addr = "127.0.0.1:7373"
	cfg.Analysis.SweepSchedule = "@every 30m"
	cfg.Reader.Scale = 1.5
	return cfg
}

// Load reads the config at path over the defaults, writing the defaults
// there first when the file does not exist. Environment variables take
// precedence over the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if dataDir := os.Getenv("FOLIO_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as dotted keys, masking secrets when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored in the file under a dotted key. Keys
// outside the Config struct are readable once set.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dotted key in an existing config file.
// Values that parse as JSON (numbers, booleans) keep their type; anything
// else is stored as a string.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat := Flatten(m)
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}
