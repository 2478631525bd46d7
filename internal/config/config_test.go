package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, k := range []string{"SERVER_PORT", "STORE_BACKEND", "GRAPH_BACKEND", "PROVENANCE_BACKEND", "HITL_CONFIDENCE_THRESHOLD", "TASK_MAX_ATTEMPTS", "CONSOLIDATION_INTERVAL", "MEMORY_BASE_STABILITY_DAYS", "RUN_RETENTION"} {
		t.Setenv(k, "")
	}

	assert.Equal(t, 8080, ServerPort())
	assert.Equal(t, ":8080", ServerAddr())
	assert.Equal(t, "postgres", StoreBackend())
	assert.Equal(t, "postgres", GraphBackend())
	assert.Equal(t, 0.85, HITLConfidenceThreshold())
	assert.Equal(t, 3, TaskMaxAttempts())
	assert.Equal(t, 6*time.Hour, ConsolidationInterval())
	assert.Equal(t, 30*24*time.Hour, MemoryBaseStability())
	assert.Equal(t, time.Hour, RunRetention())
}

func TestOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("PROVENANCE_BACKEND", "")
	t.Setenv("GRAPH_BACKEND", "neo4j")
	t.Setenv("HITL_CONFIDENCE_THRESHOLD", "0.6")
	t.Setenv("RETRY_INITIAL_DELAY_MS", "50")
	t.Setenv("CONSOLIDATION_INTERVAL", "90m")

	assert.Equal(t, "memory", ProvenanceBackend())
	assert.Equal(t, "neo4j", GraphBackend())
	assert.Equal(t, 0.6, HITLConfidenceThreshold())
	assert.Equal(t, 50*time.Millisecond, RetryInitialDelay())
	assert.Equal(t, 90*time.Minute, ConsolidationInterval())

	t.Setenv("RUN_RETENTION", "0")
	assert.Zero(t, RunRetention(), "zero keeps runs forever")
	t.Setenv("RUN_RETENTION", "-5m")
	assert.Equal(t, time.Hour, RunRetention())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	t.Setenv("RATE_LIMIT_RPS", "-3")

	assert.Equal(t, 8080, ServerPort())
	assert.Equal(t, 100.0, RateLimitRPS())
}

func TestLLMAPIKey_PrefersExplicitKey(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "provider-key")
	t.Setenv("LLM_API_KEY", "")
	assert.Equal(t, "provider-key", LLMAPIKey())

	t.Setenv("LLM_API_KEY", "explicit")
	assert.Equal(t, "explicit", LLMAPIKey())
}

func TestLoad_ReadsEnvFileAndSecret(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SCHOLAE_TEST_PORT_KEY=9191\n"), 0o600))
	require.NoError(t, os.WriteFile(envFile+".secret", []byte("SCHOLAE_TEST_SECRET=s3cret\n"), 0o600))
	t.Setenv("SCHOLAE_ENV", envFile)
	t.Cleanup(func() {
		_ = os.Unsetenv("SCHOLAE_TEST_PORT_KEY")
		_ = os.Unsetenv("SCHOLAE_TEST_SECRET")
	})

	require.NoError(t, Load())
	assert.Equal(t, "9191", os.Getenv("SCHOLAE_TEST_PORT_KEY"))
	assert.Equal(t, "s3cret", os.Getenv("SCHOLAE_TEST_SECRET"))
}
