package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by SYNAPSE_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("SYNAPSE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

// DataDir returns the directory for the json storage backend and other
// local state. Defaults to ".synapse" if not set.
func DataDir() string {
	dir := os.Getenv("SYNAPSE_DATA_DIR")
	if dir == "" {
		return ".synapse"
	}
	return dir
}

// StorageBackend returns the configured storage backend.
// Defaults to "json" if not set.
// Valid values: json, sqlite, postgres
func StorageBackend() string {
	b := os.Getenv("SYNAPSE_STORAGE")
	if b == "" {
		return "json"
	}
	return b
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

func CerebrasAPIKey() string {
	return os.Getenv("CEREBRAS_API_KEY")
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "openai" if not set.
// Valid values: openai, mock
func EmbeddingProvider() string {
	p := os.Getenv("SYNAPSE_EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// ChatProvider returns the configured chat provider. Empty means no chat
// client is wired and LLM-backed features degrade to their structural
// fallbacks.
// Valid values: openai, anthropic, gemini, cerebras, mock
func ChatProvider() string {
	return os.Getenv("SYNAPSE_CHAT_PROVIDER")
}

// EmbeddingModel returns the embedding model override. Empty selects the
// provider default.
func EmbeddingModel() string {
	return os.Getenv("SYNAPSE_EMBEDDING_MODEL")
}

// ChatModel returns the chat model override. Empty selects the provider
// default.
func ChatModel() string {
	return os.Getenv("SYNAPSE_CHAT_MODEL")
}

// ChatAPIKey returns the API key for the configured chat provider.
func ChatAPIKey() string {
	switch ChatProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "gemini":
		return GeminiAPIKey()
	case "cerebras":
		return CerebrasAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// LogFile returns the path for the rotating CLI log file. Empty disables
// file logging.
func LogFile() string {
	return os.Getenv("SYNAPSE_LOG_FILE")
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("SYNAPSE_LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// PredicatesFile returns the path of a YAML file with extra predicate
// definitions merged over the built-in registry. Empty means built-ins only.
func PredicatesFile() string {
	return os.Getenv("SYNAPSE_PREDICATES_FILE")
}

// MarkdownLog returns the path for the append-only markdown event mirror.
// Empty disables the sink.
func MarkdownLog() string {
	return os.Getenv("SYNAPSE_MARKDOWN_LOG")
}

// WebhookURL returns the endpoint for the webhook event sink. Empty disables
// the sink.
func WebhookURL() string {
	return os.Getenv("SYNAPSE_WEBHOOK_URL")
}
