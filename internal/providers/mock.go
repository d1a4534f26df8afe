package providers

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"policyreader/internal/prompts"
)

// MockProvider answers extraction prompts by reading "Label: value" pairs out
// of the embedded policy text. It needs no credentials and is deterministic.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

var rePairSep = regexp.MustCompile(`,\s+|;|\n`)

const maxMockKeyRunes = 60

func (m *MockProvider) Configured() error { return nil }

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	_ = ctx
	info := ProviderInfo{Name: "mock", Model: modelOr(req, "mock-llm-v1"), Key: "mock"}
	if req.Operation != OperationExtract {
		return GenerateResponse{Text: `{"ok":true}`}, info, nil
	}
	text, ok := prompts.ExtractPolicyText(req.Prompt)
	if !ok {
		text = req.Prompt
	}
	fields := labelPairs(text)
	if len(fields) == 0 {
		return GenerateResponse{Text: "I could not find any fields."}, info, nil
	}
	b, _ := json.Marshal(fields)
	return GenerateResponse{Text: string(b)}, info, nil
}

func labelPairs(text string) map[string]string {
	out := map[string]string{}
	for _, part := range rePairSep.Split(text, -1) {
		key, value, found := strings.Cut(part, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" || len([]rune(key)) > maxMockKeyRunes {
			continue
		}
		if _, dup := out[key]; !dup {
			out[key] = value
		}
	}
	return out
}
