package workflows

type DocumentProcessInput struct {
	DocumentID        string `json:"document_id"`
	AttemptID         string `json:"attempt_id"`
	ProviderOrder     []int  `json:"provider_order"`
	CooldownSeconds   int    `json:"cooldown_seconds"`
	OCRTimeoutSeconds int    `json:"ocr_timeout_seconds"`
	LLMTimeoutSeconds int    `json:"llm_timeout_seconds"`
	Model             string `json:"model,omitempty"`
}

const (
	ResultCompleted  = "completed"
	ResultFailed     = "failed"
	ResultSuperseded = "superseded"
)
