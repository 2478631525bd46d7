package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file named by SCHOLAE_ENV (or .env by default),
// then the matching .secret sidecar if it exists. Everything else is a
// flat env var read through the getters below.
func Load() error {
	envFile := os.Getenv("SCHOLAE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Missing files are fine; the process env still applies.
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	return envInt("SERVER_PORT", 8080)
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// Backend selectors. Valid values: postgres, memory (plus neo4j for the
// graph and sqlite for provenance).
func StoreBackend() string {
	return envString("STORE_BACKEND", "postgres")
}

func GraphBackend() string {
	return envString("GRAPH_BACKEND", StoreBackend())
}

func ProvenanceBackend() string {
	return envString("PROVENANCE_BACKEND", StoreBackend())
}

func Neo4jURI() string {
	return envString("NEO4J_URI", "neo4j://localhost:7687")
}

func Neo4jUser() string {
	return envString("NEO4J_USER", "neo4j")
}

func Neo4jPassword() string {
	return os.Getenv("NEO4J_PASSWORD")
}

func Neo4jDatabase() string {
	return os.Getenv("NEO4J_DATABASE")
}

func SQLitePath() string {
	return envString("SQLITE_PATH", "scholae-provenance.db")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Valid values: openai, anthropic, mock
func LLMProvider() string {
	return envString("LLM_PROVIDER", "anthropic")
}

// LLMAPIKey returns LLM_API_KEY, or the key of the configured provider.
func LLMAPIKey() string {
	if k := os.Getenv("LLM_API_KEY"); k != "" {
		return k
	}
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// LLMCacheSize bounds the number of cached concept extractions.
func LLMCacheSize() int64 {
	return int64(envInt("LLM_CACHE_SIZE", 10000))
}

// EmbeddingProvider returns the configured embedding provider.
// Valid values: openai, mock, none
func EmbeddingProvider() string {
	return envString("EMBEDDING_PROVIDER", "none")
}

func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "openai":
		return OpenAIAPIKey()
	default:
		return ""
	}
}

func HITLConfidenceThreshold() float64 {
	return envFloat("HITL_CONFIDENCE_THRESHOLD", 0.85)
}

func TaskMaxAttempts() int {
	return envInt("TASK_MAX_ATTEMPTS", 3)
}

func RetryInitialDelay() time.Duration {
	return time.Duration(envInt("RETRY_INITIAL_DELAY_MS", 200)) * time.Millisecond
}

func RetryMaxDelay() time.Duration {
	return time.Duration(envInt("RETRY_MAX_DELAY_MS", 5000)) * time.Millisecond
}

func MaxParallelTasks() int {
	return envInt("MAX_PARALLEL_TASKS", 4)
}

// RunRetention is how long finished runs stay queryable. "0" keeps them
// until restart.
func RunRetention() time.Duration {
	d, err := time.ParseDuration(os.Getenv("RUN_RETENTION"))
	if err != nil || d < 0 {
		return time.Hour
	}
	return d
}

func BridgeMaxHops() int {
	return envInt("BRIDGE_MAX_HOPS", 5)
}

func ConsolidationInterval() time.Duration {
	d, err := time.ParseDuration(os.Getenv("CONSOLIDATION_INTERVAL"))
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

func ConsolidationStableThreshold() float64 {
	return envFloat("CONSOLIDATION_STABLE_THRESHOLD", 0.7)
}

func ConsolidationPruneThreshold() float64 {
	return envFloat("CONSOLIDATION_PRUNE_THRESHOLD", 0.2)
}

// MemoryBaseStability is the stability of a never-reinforced record.
func MemoryBaseStability() time.Duration {
	return time.Duration(envFloat("MEMORY_BASE_STABILITY_DAYS", 30) * float64(24*time.Hour))
}

// KafkaBrokers is a comma separated broker list. Empty disables Kafka.
func KafkaBrokers() string {
	return os.Getenv("KAFKA_BROKERS")
}

func KafkaTopic() string {
	return envString("KAFKA_TOPIC", "scholae.transitions")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	return envFloat("RATE_LIMIT_RPS", 100)
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	return envInt("RATE_LIMIT_BURST", 20)
}

// APIToken is the static bearer token guarding /v1. Empty disables auth.
func APIToken() string {
	return os.Getenv("API_TOKEN")
}

// LogLevel returns the log level (debug, info, warn, error).
func LogLevel() string {
	return envString("LOG_LEVEL", "info")
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
