package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractrag/types"
)

func TestCalculateBackoff(t *testing.T) {
	assert.Zero(t, CalculateBackoff(time.Second, 0))

	base := 100 * time.Millisecond
	got := CalculateBackoff(base, 1)
	assert.GreaterOrEqual(t, got, 150*time.Millisecond)
	assert.LessOrEqual(t, got, 250*time.Millisecond)

	capped := CalculateBackoff(time.Second, 100)
	assert.LessOrEqual(t, capped, 38*time.Second)
}

func TestExtractJSON(t *testing.T) {
	out, err := ExtractJSON("Sure! ```json\n{\"risk_score\": 3}\n```")
	require.NoError(t, err)
	assert.Equal(t, `{"risk_score": 3}`, out)

	_, err = ExtractJSON("I cannot help with that.")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestOllamaEmbedder_Normalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OllamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "indemnity", req.Prompt)
		_ = json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	vec, err := NewOllamaEmbedder(srv.URL, "nomic-embed-text").Embed(context.Background(), "indemnity")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vec, 1e-6)
}

func TestOllamaEmbedder_FailuresAreEmbeddingServiceErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			want: "status 500",
		},
		{
			name: "garbled body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>proxy error</html>"))
			},
			want: "unmarshal",
		},
		{
			name: "empty vector",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(OllamaEmbeddingResponse{})
			},
			want: "empty embedding",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewOllamaEmbedder(srv.URL, "nomic-embed-text").Embed(context.Background(), "indemnity")
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrEmbeddingService)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := NewOllamaEmbedder(url, "nomic-embed-text").Embed(context.Background(), "indemnity")
	assert.ErrorIs(t, err, types.ErrEmbeddingService, "unreachable server")
}

func TestOllamaCompleter_SendsSchemaAndTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["stream"])
		assert.NotNil(t, req["format"])
		opts := req["options"].(map[string]any)
		assert.InDelta(t, 0.2, opts["temperature"], 1e-6)
		_ = json.NewEncoder(w).Encode(GenerateResponse{Response: `{"ok":true}`, Done: true})
	}))
	defer srv.Close()

	out, err := NewOllamaCompleter(srv.URL, "llama3.1").Complete(context.Background(), CompletionRequest{
		Prompt:      "analyze",
		Temperature: 0.2,
		Schema:      &jsonschema.Definition{Type: jsonschema.Object},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestOllamaCompleter_StatusClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOllamaCompleter(srv.URL, "llama3.1").Complete(context.Background(), CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, types.ErrRateLimited)
}

func TestOpenAIClient_EmbedAndComplete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small"}`))
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		format := req["response_format"].(map[string]any)
		assert.Equal(t, "json_schema", format["type"])
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"risk_score\":4}"},"finish_reason":"stop"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "clause")
	require.NoError(t, err)
	assert.Len(t, vec, 3)

	out, err := c.Complete(context.Background(), CompletionRequest{
		System: "sys",
		Prompt: "analyze",
		Schema: &jsonschema.Definition{Type: jsonschema.Object},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"risk_score":4}`, out)
}

func TestOpenAIClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, types.ErrRateLimited)
}

type scriptedCompleter struct {
	errs  []error
	calls int
}

func (s *scriptedCompleter) Complete(context.Context, CompletionRequest) (string, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return "", s.errs[s.calls-1]
	}
	return "done", nil
}

func TestWithRetry(t *testing.T) {
	inner := &scriptedCompleter{errs: []error{types.ErrRateLimited}}
	out, err := WithRetry(inner, 1, time.Millisecond).Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, inner.calls)

	inner = &scriptedCompleter{errs: []error{types.ErrModel, types.ErrModel}}
	_, err = WithRetry(inner, 1, time.Millisecond).Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, types.ErrModel)
	assert.Equal(t, 2, inner.calls)

	inner = &scriptedCompleter{errs: []error{context.DeadlineExceeded}}
	_, err = WithRetry(inner, 3, time.Millisecond).Complete(context.Background(), CompletionRequest{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, inner.calls)
}
