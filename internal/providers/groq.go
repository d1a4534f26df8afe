package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// GroqProvider supports LLM generation via Groq's OpenAI-compatible API.
type GroqProvider struct {
	keyName string
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewGroqProvider(keyName string) *GroqProvider {
	model := os.Getenv("POLICYREADER_GROQ_MODEL")
	if strings.TrimSpace(model) == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &GroqProvider{
		keyName: keyName,
		apiKey:  resolveKey("GROQ", keyName),
		model:   model,
		baseURL: "https://api.groq.com/openai/v1",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (g *GroqProvider) Configured() error {
	if g.apiKey == "" {
		return fmt.Errorf("groq key missing for alias %q", g.keyName)
	}
	return nil
}

func (g *GroqProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "groq", Key: g.keyName, Model: modelOr(req, g.model)}
	if err := g.Configured(); err != nil {
		return GenerateResponse{}, info, err
	}
	text, err := chatCompletion(ctx, g.client, g.baseURL+"/chat/completions", g.apiKey, info, req)
	return GenerateResponse{Text: text}, info, err
}
