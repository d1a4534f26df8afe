package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"policyreader/internal/config"
	"policyreader/internal/util"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type Manager struct {
	llmProviders []NamedLLMProvider
	allowMock    bool
}

var errMockDisabled = errors.New("mock provider is disabled; set POLICYREADER_ALLOW_MOCK=true to use it")

func NewManager(cfg config.Config) (*Manager, error) {
	refs, err := ParseProviderList(cfg.LLMProviders)
	if err != nil {
		return nil, err
	}
	named := make([]NamedLLMProvider, 0, len(refs))
	for _, ref := range refs {
		p, err := buildProvider(ref)
		if err != nil {
			return nil, err
		}
		named = append(named, NamedLLMProvider{Ref: ref, Provider: p})
	}
	return NewManagerWith(named...).AllowMock(cfg.AllowMockLLM), nil
}

// NewManagerWith builds a manager over explicit providers. A ref with a
// pinned model sends that model on every call.
func NewManagerWith(named ...NamedLLMProvider) *Manager {
	m := &Manager{llmProviders: make([]NamedLLMProvider, 0, len(named))}
	for _, n := range named {
		if n.Ref.Model != "" {
			n.Provider = pinnedModel{LLMProvider: n.Provider, model: n.Ref.Model}
		}
		m.llmProviders = append(m.llmProviders, n)
	}
	return m
}

// AllowMock decides whether mock providers count as configured. They never
// do by default, so a deployment cannot fall back to canned answers.
func (m *Manager) AllowMock(allow bool) *Manager {
	m.allowMock = allow
	return m
}

type pinnedModel struct {
	LLMProvider
	model string
}

func (p pinnedModel) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	req.Model = p.model
	return p.LLMProvider.Generate(ctx, req)
}

func (m *Manager) LLMProviderByIndex(i int) (LLMProvider, ProviderRef) {
	if len(m.llmProviders) == 0 {
		return NewMockProvider(), ProviderRef{Raw: "mock", Name: "mock"}
	}
	if i < 0 || i >= len(m.llmProviders) {
		i = 0
	}
	return m.llmProviders[i].Provider, m.llmProviders[i].Ref
}

// ProviderConfigured is nil when provider i may take calls: it has
// credentials, and it is not a mock the manager was told to refuse.
func (m *Manager) ProviderConfigured(i int) error {
	if len(m.llmProviders) == 0 {
		return util.ErrNotConfigured
	}
	if i < 0 || i >= len(m.llmProviders) {
		i = 0
	}
	p := m.llmProviders[i]
	if p.Ref.Name == "mock" && !m.allowMock {
		return errMockDisabled
	}
	return p.Provider.Configured()
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

// PreferredLLMOrder lists provider indexes with mock providers last.
func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

func (m *Manager) FindLLMProviderIndex(raw string) int {
	target := strings.ToLower(strings.TrimSpace(raw))
	if target == "" {
		return -1
	}
	for i := range m.llmProviders {
		ref := m.llmProviders[i].Ref
		if strings.ToLower(ref.Raw) == target || strings.ToLower(ref.Name) == target {
			return i
		}
	}
	return -1
}

// Configured is nil when at least one provider has credentials.
func (m *Manager) Configured() error {
	if len(m.llmProviders) == 0 {
		return util.ErrNotConfigured
	}
	var errs []error
	for i, p := range m.llmProviders {
		err := m.ProviderConfigured(i)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Ref.Raw, err))
	}
	return fmt.Errorf("%w: %w", util.ErrNotConfigured, errors.Join(errs...))
}

type ProviderHealth struct {
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Health probes every provider with a tiny generation request.
func (m *Manager) Health(ctx context.Context, timeout time.Duration) []ProviderHealth {
	out := make([]ProviderHealth, 0, len(m.llmProviders))
	for i, p := range m.llmProviders {
		h := ProviderHealth{Provider: p.Ref.Raw}
		if err := m.ProviderConfigured(i); err != nil {
			h.Error = err.Error()
			out = append(out, h)
			continue
		}
		start := time.Now()
		pctx, cancel := context.WithTimeout(ctx, timeout)
		_, info, err := p.Provider.Generate(pctx, GenerateRequest{
			Operation: OperationHealth,
			Prompt:    `Reply with {"ok":true}`,
			JSON:      true,
		})
		cancel()
		h.LatencyMS = time.Since(start).Milliseconds()
		h.Model = info.Model
		if err != nil {
			h.Error = err.Error()
			h.ErrorType = string(ClassifyError(err))
		} else {
			h.Healthy = true
		}
		out = append(out, h)
	}
	return out
}

func buildProvider(ref ProviderRef) (LLMProvider, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	case "anthropic":
		return NewAnthropicProvider(ref.KeyAlias), nil
	case "gemini":
		return NewGeminiProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
