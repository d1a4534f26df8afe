package activities

import (
	"policyreader/internal/models"
	"policyreader/internal/monitor"
	"policyreader/internal/ocr"
	"policyreader/internal/providers"
)

// ErrTypeStaleAttempt marks activity errors for attempts that no longer own
// their document. Workflows stop without touching the document.
const ErrTypeStaleAttempt = "StaleAttempt"

type DocumentInput struct {
	DocumentID string `json:"document_id"`
	AttemptID  string `json:"attempt_id"`
}

type ReadTextOutput struct {
	Category string     `json:"category"`
	Text     ocr.Result `json:"text"`
}

type BuildPromptInput struct {
	DocumentID string `json:"document_id"`
	AttemptID  string `json:"attempt_id"`
	Text       string `json:"text"`
}

type BuildPromptOutput struct {
	Prompt    string `json:"prompt"`
	Source    string `json:"source"`
	Truncated bool   `json:"truncated"`
}

type LLMGenerateInput struct {
	Operation     string `json:"operation"`
	DocumentID    string `json:"document_id"`
	AttemptID     string `json:"attempt_id"`
	Prompt        string `json:"prompt"`
	Model         string `json:"model,omitempty"`
	ProviderIndex int    `json:"provider_index"`
	ProviderRef   string `json:"provider_ref,omitempty"`
}

type LLMGenerateOutput struct {
	Text         string `json:"text"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
}

type LogLLMCallInput struct {
	CallID       string `json:"call_id"`
	Operation    string `json:"operation"`
	DocumentID   string `json:"document_id"`
	AttemptID    string `json:"attempt_id"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
	Status       string `json:"status"`
	ErrorType    string `json:"error_type"`
	DurationMS   int64  `json:"duration_ms"`
}

type FinishInput struct {
	DocumentID string               `json:"document_id"`
	AttemptID  string               `json:"attempt_id"`
	Text       ocr.Result           `json:"text"`
	Completion providers.Completion `json:"completion"`
}

type FinishOutput struct {
	Status      models.Status `json:"status"`
	Fields      int           `json:"fields"`
	NeedsReview bool          `json:"needs_review"`
	Reason      string        `json:"reason,omitempty"`
}

type FailInput struct {
	DocumentID string `json:"document_id"`
	AttemptID  string `json:"attempt_id"`
	Reason     string `json:"reason"`
}

type SweepOutput struct {
	Report monitor.Report `json:"report"`
}
