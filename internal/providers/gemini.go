package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider calls Gemini through the generative-ai-go client. A client is
// created per call.
type GeminiProvider struct {
	keyName string
	apiKey  string
	model   string
}

func NewGeminiProvider(keyName string) *GeminiProvider {
	model := strings.TrimSpace(os.Getenv("POLICYREADER_GEMINI_MODEL"))
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiProvider{keyName: keyName, apiKey: resolveKey("GEMINI", keyName), model: model}
}

func (g *GeminiProvider) Configured() error {
	if g.apiKey == "" {
		return fmt.Errorf("gemini key missing for alias %q", g.keyName)
	}
	return nil
}

func (g *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: modelOr(req, g.model), Key: g.keyName}
	if err := g.Configured(); err != nil {
		return GenerateResponse{}, info, err
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(info.Model)
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPromptFor(req.Operation)))
	model.SetTemperature(0)
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}
	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return GenerateResponse{}, info, fmt.Errorf("gemini returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return GenerateResponse{}, info, fmt.Errorf("gemini returned empty response")
	}
	return GenerateResponse{Text: b.String()}, info, nil
}
