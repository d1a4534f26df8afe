package providers

import "context"

const (
	OperationExtract = "extract_fields"
	OperationHealth  = "health_probe"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type GenerateRequest struct {
	Operation string `json:"operation"`
	Prompt    string `json:"prompt"`
	// Model overrides the provider's default model when set.
	Model string `json:"model,omitempty"`
	// JSON asks the provider for a JSON-only response where the API supports it.
	JSON bool `json:"json,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
	// Configured reports whether credentials are present, without a network call.
	Configured() error
}

const extractionSystemPrompt = "You extract structured data from insurance policy documents. " +
	"Reply with a single flat JSON object and nothing else."

func systemPromptFor(op string) string {
	if op == OperationExtract {
		return extractionSystemPrompt
	}
	return "You are a terse assistant."
}

func modelOr(req GenerateRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}
