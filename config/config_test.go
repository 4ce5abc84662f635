package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"CHUNK_SIZE", "CHUNK_OVERLAP", "LLM_PROVIDER", "INDEX_BACKEND", "TEMPERATURE", "DATABASE_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, 1536, cfg.VectorDimension)
	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, 5, cfg.TopK)
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-9)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxUploadBytes())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "400")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("RETRIEVAL_TIMEOUT", "2s")
	t.Setenv("INDEX_BACKEND", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 2*time.Second, cfg.RetrievalTimeout)
	assert.Equal(t, BackendSQLite, cfg.IndexBackend)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ChunkSize:       800,
			ChunkOverlap:    100,
			VectorDimension: 1536,
			Temperature:     0.2,
			TopK:            5,
			MaxRetries:      1,
			LLMProvider:     ProviderOpenAI,
			IndexBackend:    BackendPostgres,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errSub string
	}{
		{"valid", func(c *Config) {}, ""},
		{"overlap equals size", func(c *Config) { c.ChunkOverlap = 800 }, "CHUNK_OVERLAP"},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, "CHUNK_OVERLAP"},
		{"zero size", func(c *Config) { c.ChunkSize = 0 }, "CHUNK_SIZE"},
		{"hot temperature", func(c *Config) { c.Temperature = 0.9 }, "TEMPERATURE"},
		{"bad provider", func(c *Config) { c.LLMProvider = "anthropic" }, "LLM_PROVIDER"},
		{"bad backend", func(c *Config) { c.IndexBackend = "pinecone" }, "INDEX_BACKEND"},
		{"zero top k", func(c *Config) { c.TopK = 0 }, "TOP_K"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.errSub == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errSub), err.Error())
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	c := &Config{PGHost: "db", PGPort: 5433, PGUser: "u", PGPass: "p", PGDBName: "x"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=x sslmode=disable", c.PostgresDSN())

	c.DatabaseURL = "postgres://u:p@db/x"
	assert.Equal(t, "postgres://u:p@db/x", c.PostgresDSN())
}
