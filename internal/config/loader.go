package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// searchPaths returns the fixed config-file search path: working
// directory first, then the user config directory, per spec §6.
func searchPaths(name string) []string {
	paths := []string{filepath.Join(".", name)}
	if ucd, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(ucd, "lumina", name))
	}
	return paths
}

// Load assembles a Config from environment variables (optionally loaded
// from .env) overlaid on the first discovered config file. Environment
// variables set before Load is called take precedence; anything not set
// by the environment may be filled in by the file; anything set by
// neither falls back to defaults().
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaults()

	var fileErr error
	for _, candidate := range append(searchPaths("config.yaml"), searchPaths("config.json")...) {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := mergeFile(&cfg, candidate); err != nil {
			fileErr = fmt.Errorf("loading config file %s: %w", candidate, err)
		}
		break
	}
	if fileErr != nil {
		return Config{}, fileErr
	}

	applyEnv(&cfg)
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".json") {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LUMINA_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_LOG_FORMAT")); v != "" {
		cfg.LogFormat = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_QDRANT_DSN")); v != "" {
		cfg.Qdrant.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_GATEWAY_ADDR")); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_PLUGINS_DIR")); v != "" {
		cfg.Plugins.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_SOUL_DATA_DIR")); v != "" {
		cfg.Soul.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_EMBEDDING_BASE_URL")); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_EMBEDDING_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMINA_CONSOLIDATION_BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Consolidation.BatchSize = n
		}
	}
	// Per-provider API keys: LUMINA_PROVIDER_<ID>_API_KEY
	for id, pc := range cfg.Providers {
		envKey := "LUMINA_PROVIDER_" + strings.ToUpper(id) + "_API_KEY"
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			pc.APIKey = v
			cfg.Providers[id] = pc
		}
	}
}
