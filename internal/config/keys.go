package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "KBASE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "KBASE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "KBASE_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "KBASE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.embed_timeout", typ: kString, env: "KBASE_OLLAMA_EMBED_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedTimeout },
	},
	{
		key: "ollama.chat_timeout", typ: kString, env: "KBASE_OLLAMA_CHAT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatTimeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "KBASE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "kb.default_collection", typ: kString, env: "KBASE_KB_DEFAULT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.KB.DefaultCollection = v.(string) },
		extract: func(cfg Config) any { return cfg.KB.DefaultCollection },
	},
	{
		key: "kb.chunk_size", typ: kInt, env: "KBASE_KB_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.KB.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.KB.ChunkSize },
	},
	{
		key: "kb.top_k", typ: kInt, env: "KBASE_KB_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.KB.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.KB.TopK },
	},
	{
		key: "kb.score_threshold", typ: kFloat, env: "KBASE_KB_SCORE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.KB.ScoreThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.KB.ScoreThreshold },
	},
	{
		key: "kb.max_context_tokens", typ: kInt, env: "KBASE_KB_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.KB.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.KB.MaxContextTokens },
	},
	{
		key: "log.level", typ: kString, env: "KBASE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
