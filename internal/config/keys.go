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
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "MAICOOKBOOK_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "MAICOOKBOOK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.request_timeout", typ: kString, env: "MAICOOKBOOK_SERVER_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Server.RequestTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.RequestTimeout },
	},
	{
		// The endpoint credentials keep the exact env names the service has
		// always used; they never live in the config file.
		key: "api.base", typ: kString, env: "API_BASE",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "api.key", typ: kString, env: "API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Key = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Key },
	},
	{
		key: "api.chat_model", typ: kString, env: "MAICOOKBOOK_API_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.API.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.API.ChatModel },
	},
	{
		key: "api.embed_model", typ: kString, env: "MAICOOKBOOK_API_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.API.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.API.EmbedModel },
	},
	{
		key: "corpus.dataset", typ: kString, env: "MAICOOKBOOK_CORPUS_DATASET",
		apply:   func(cfg *Config, v any) { cfg.Corpus.Dataset = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.Dataset },
	},
	{
		key: "corpus.extras_dir", typ: kString, env: "MAICOOKBOOK_CORPUS_EXTRAS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Corpus.ExtrasDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.ExtrasDir },
	},
	{
		key: "corpus.chunk_chars", typ: kInt, env: "MAICOOKBOOK_CORPUS_CHUNK_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Corpus.ChunkChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Corpus.ChunkChars },
	},
	{
		key: "corpus.embed_batch", typ: kInt, env: "MAICOOKBOOK_CORPUS_EMBED_BATCH",
		apply:   func(cfg *Config, v any) { cfg.Corpus.EmbedBatch = v.(int) },
		extract: func(cfg Config) any { return cfg.Corpus.EmbedBatch },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "MAICOOKBOOK_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "synthesis.history_turns", typ: kInt, env: "MAICOOKBOOK_SYNTHESIS_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Synthesis.HistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Synthesis.HistoryTurns },
	},
	{
		key: "synthesis.max_context_tokens", typ: kInt, env: "MAICOOKBOOK_SYNTHESIS_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Synthesis.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Synthesis.MaxContextTokens },
	},
	{
		key: "conversations.max_active", typ: kInt, env: "MAICOOKBOOK_CONVERSATIONS_MAX_ACTIVE",
		apply:   func(cfg *Config, v any) { cfg.Conversations.MaxActive = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversations.MaxActive },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MAICOOKBOOK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MAICOOKBOOK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "mcp.enabled", typ: kBool, env: "MAICOOKBOOK_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.MCP.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.MCP.Enabled },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
