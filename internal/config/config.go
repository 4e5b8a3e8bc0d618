package config

import "time"

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	KB      KBConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
	// Timeouts are duration strings ("30s", "2m").
	EmbedTimeout string
	ChatTimeout  string
}

type StorageConfig struct {
	DataDir string
}

type KBConfig struct {
	DefaultCollection string
	ChunkSize         int
	TopK              int
	ScoreThreshold    float64
	MaxContextTokens  int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			ChatModel:    "llama3.2",
			EmbedModel:   "nomic-embed-text",
			EmbedTimeout: "30s",
			ChatTimeout:  "120s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		KB: KBConfig{
			DefaultCollection: "default",
			ChunkSize:         1000,
			TopK:              5,
			ScoreThreshold:    0.7,
			MaxContextTokens:  4000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// EmbedTimeout parses the configured embedding timeout, falling back to 30s.
func (c Config) EmbedTimeout() time.Duration {
	return parseDurationOr(c.Ollama.EmbedTimeout, 30*time.Second)
}

// ChatTimeout parses the configured chat timeout, falling back to 120s.
func (c Config) ChatTimeout() time.Duration {
	return parseDurationOr(c.Ollama.ChatTimeout, 120*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.kbase.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/kbase/config.json.
//
// Environment variables (KBASE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
