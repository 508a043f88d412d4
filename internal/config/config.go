package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

type Config struct {
	Server        ServerConfig
	API           APIConfig
	Corpus        CorpusConfig
	Retrieval     RetrievalConfig
	Synthesis     SynthesisConfig
	Conversations ConversationsConfig
	Storage       StorageConfig
	Log           LogConfig
	MCP           MCPConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout string
}

// APIConfig points at the hosted OpenAI-compatible endpoint that serves both
// chat completions and embeddings.
type APIConfig struct {
	BaseURL    string
	Key        string
	ChatModel  string
	EmbedModel string
}

type CorpusConfig struct {
	Dataset    string
	ExtrasDir  string
	ChunkChars int
	EmbedBatch int
}

type RetrievalConfig struct {
	TopK int
}

type SynthesisConfig struct {
	HistoryTurns     int
	MaxContextTokens int
}

type ConversationsConfig struct {
	MaxActive int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type MCPConfig struct {
	Enabled bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			RequestTimeout: "90s",
		},
		API: APIConfig{
			ChatModel:  "meltemi-vllm",
			EmbedModel: "BAAI/bge-m3",
		},
		Corpus: CorpusConfig{
			ChunkChars: 1600,
			EmbedBatch: 32,
		},
		Retrieval: RetrievalConfig{
			TopK: 4,
		},
		Synthesis: SynthesisConfig{
			HistoryTurns:     6,
			MaxContextTokens: 2048,
		},
		Conversations: ConversationsConfig{
			MaxActive: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in ascending precedence: built-in defaults, the
// JSON config file at $XDG_CONFIG_HOME/maicookbook/config.json, then
// environment variables (MAICOOKBOOK_* for tunables, API_BASE and API_KEY
// for the endpoint credentials). A .env file in the working directory is
// loaded into the environment first, if present.
//
// API_BASE and API_KEY are required; Load fails without them so a
// misconfigured process never comes up half-working.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.BaseURL == "" {
		return Config{}, fmt.Errorf("missing required config: API_BASE. " +
			"Set it in the environment or a .env file to the base URL of the completion endpoint")
	}
	if cfg.API.Key == "" {
		return Config{}, fmt.Errorf("missing required config: API_KEY. " +
			"Set it in the environment or a .env file")
	}

	return cfg, nil
}
