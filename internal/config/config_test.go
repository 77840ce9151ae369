package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("FOLIO_DATA_DIR", "")
}

func TestLoadWritesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, 128000, cfg.LLM.MaxContextTokens)
	assert.Equal(t, 1.5, cfg.Reader.Scale)
	assert.Equal(t, "@every 30m", cfg.Analysis.SweepSchedule)

	_, err = os.Stat(path)
	assert.NoError(t, err, "defaults are written on first load")
}

func TestLoadEnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	cfg := defaults()
	cfg.LLM.APIKey = "from-file"
	require.NoError(t, Save(path, cfg))

	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("FOLIO_DATA_DIR", "/tmp/folio-env")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", loaded.LLM.APIKey)
	assert.Equal(t, "http://localhost:11434/v1", loaded.LLM.BaseURL)
	assert.Equal(t, "/tmp/folio-env", loaded.DataDir)
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := &Config{DataDir: "/tmp/test-data", LogLevel: "debug", LogFormat: "json", MaxConcurrent: 4}
	original.Store.Driver = "sqlite"
	original.LLM.APIKey = "sk-test-round-trip"
	original.LLM.Model = "gpt-4o"
	original.LLM.Temperature = 0.5
	original.Server.Addr = ":9000"
	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, original.DataDir, loaded.DataDir)
	assert.Equal(t, original.LogFormat, loaded.LogFormat)
	assert.Equal(t, original.Store.Driver, loaded.Store.Driver)
	assert.Equal(t, original.LLM.APIKey, loaded.LLM.APIKey)
	assert.Equal(t, original.LLM.Temperature, loaded.LLM.Temperature)
	assert.Equal(t, original.Server.Addr, loaded.Server.Addr)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should not remain after save")
}

func TestSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")
	require.NoError(t, Save(path, &Config{LogLevel: "warn"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	assert.NoError(t, json.Unmarshal(data, &m))
}

func TestToMap(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/test", LogLevel: "debug"}
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.MaxTokens = 2000

	m, err := ToMap(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test", m["data_dir"])
	llm, ok := m["llm"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", llm["model"])
	assert.Equal(t, float64(2000), llm["max_tokens"])
}

func TestListValues(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.LLM.APIKey = "sk-secret-key-1234"

	flat, err := ListValues(cfg, false)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-key-1234", flat["llm.api_key"])
	assert.Equal(t, "info", flat["log_level"])

	flat, err = ListValues(cfg, true)
	require.NoError(t, err)
	assert.Equal(t, "***1234", flat["llm.api_key"])
	assert.Equal(t, "info", flat["log_level"])
}

func TestGetValue(t *testing.T) {
	path := tempConfigPath(t)
	cfg := &Config{LogLevel: "debug", MaxConcurrent: 8}
	cfg.LLM.Model = "gpt-4o"
	require.NoError(t, Save(path, cfg))

	v, err := GetValue(path, "log_level")
	require.NoError(t, err)
	assert.Equal(t, "debug", v)

	v, err = GetValue(path, "llm.model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", v)

	v, err = GetValue(path, "max_concurrent")
	require.NoError(t, err)
	assert.Equal(t, float64(8), v)

	_, err = GetValue(path, "nonexistent.key")
	assert.EqualError(t, err, "unknown config key: nonexistent.key")
}

func TestGetValueCreatesDefaults(t *testing.T) {
	clearEnv(t)
	v, err := GetValue(tempConfigPath(t), "store.driver")
	require.NoError(t, err)
	assert.Equal(t, "file", v)
}

func TestSetValue(t *testing.T) {
	path := tempConfigPath(t)
	cfg := &Config{LogLevel: "info", MaxConcurrent: 2}
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.Temperature = 0.7
	require.NoError(t, Save(path, cfg))

	tests := []struct {
		key   string
		value string
		want  any
	}{
		{"log_level", "debug", "debug"},
		{"max_concurrent", "16", float64(16)},
		{"llm.temperature", "0.3", 0.3},
		{"llm.model", "gpt-4o", "gpt-4o"},
		{"store.driver", "sqlite", "sqlite"},
		{"custom.flag", "true", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.NoError(t, SetValue(path, tt.key, tt.value))
			v, err := GetValue(path, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	v, err := GetValue(path, "log_level")
	require.NoError(t, err)
	assert.Equal(t, "debug", v, "earlier values are preserved")
}

func TestSetValueNonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	assert.Error(t, SetValue(path, "log_level", "debug"))
}
