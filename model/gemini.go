package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"contractrag/types"
)

const (
	DefaultGeminiChatModel      = "gemini-1.5-flash"
	DefaultGeminiEmbeddingModel = "text-embedding-004"
)

// GeminiClient serves both embeddings and completions from one genai client.
type GeminiClient struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
}

func NewGeminiClient(ctx context.Context, apiKey, chatModel, embeddingModel string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if chatModel == "" || strings.HasPrefix(chatModel, "gpt-") {
		chatModel = DefaultGeminiChatModel
	}
	if embeddingModel == "" || strings.HasPrefix(embeddingModel, "text-embedding-3") {
		embeddingModel = DefaultGeminiEmbeddingModel
	}
	return &GeminiClient{client: client, chatModel: chatModel, embeddingModel: embeddingModel}, nil
}

func (g *GeminiClient) Name() string {
	return "gemini/" + g.chatModel
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(g.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingService, classify("gemini embeddings", geminiStatus(err), err))
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: gemini returned an empty embedding", types.ErrEmbeddingService)
	}
	return res.Embedding.Values, nil
}

func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m := g.client.GenerativeModel(g.chatModel)
	m.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Schema != nil {
		m.ResponseMIMEType = "application/json"
		m.ResponseSchema = toGenaiSchema(req.Schema)
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", classify("gemini", geminiStatus(err), err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: gemini: empty candidate", types.ErrModel)
	}
	return b.String(), nil
}

func geminiStatus(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return 429
	}
	return 0
}

// toGenaiSchema converts the subset of JSON schema the analyzer uses.
func toGenaiSchema(d *jsonschema.Definition) *genai.Schema {
	if d == nil {
		return nil
	}
	s := &genai.Schema{
		Description: d.Description,
		Required:    d.Required,
		Enum:        d.Enum,
	}
	switch d.Type {
	case jsonschema.Object:
		s.Type = genai.TypeObject
		s.Properties = make(map[string]*genai.Schema, len(d.Properties))
		for name, prop := range d.Properties {
			s.Properties[name] = toGenaiSchema(&prop)
		}
	case jsonschema.Array:
		s.Type = genai.TypeArray
		s.Items = toGenaiSchema(d.Items)
	case jsonschema.Integer:
		s.Type = genai.TypeInteger
	case jsonschema.Number:
		s.Type = genai.TypeNumber
	case jsonschema.Boolean:
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	return s
}
