package models

import "time"

type Status string

const (
	StatusDraft      Status = "Draft"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

const (
	MethodPDFText   = "pdf-text"
	MethodTesseract = "tesseract"
)

type Document struct {
	ID                  string         `json:"id"`
	Owner               string         `json:"owner,omitempty"`
	Title               string         `json:"title"`
	SourceFile          string         `json:"source_file,omitempty"`
	Category            string         `json:"category,omitempty"`
	Status              Status         `json:"status"`
	ExtractedFields     map[string]any `json:"extracted_fields,omitempty"`
	RawText             string         `json:"raw_text,omitempty"`
	Confidence          float64        `json:"confidence"`
	ProcessingMethod    string         `json:"processing_method,omitempty"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	NeedsReview         bool           `json:"needs_review"`
	Diagnostics         Diagnostics    `json:"diagnostics"`
	AttemptID           string         `json:"attempt_id,omitempty"`
	RetryCount          int            `json:"retry_count"`
	ProcessingSeconds   float64        `json:"processing_seconds,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	ProcessingStartedAt *time.Time     `json:"processing_started_at,omitempty"`
	AttemptStartedAt    *time.Time     `json:"attempt_started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Diagnostics is operator-facing detail about how an extraction went.
type Diagnostics struct {
	ParseStrategy    string              `json:"parse_strategy,omitempty"`
	ParseFailed      bool                `json:"parse_failed,omitempty"`
	ParseAttempts    []string            `json:"parse_attempts,omitempty"`
	Unmapped         []string            `json:"unmapped,omitempty"`
	Suggestions      map[string][]string `json:"suggestions,omitempty"`
	DroppedProtected []string            `json:"dropped_protected,omitempty"`
	Conversion       []ConversionIssue   `json:"conversion,omitempty"`
	OCRWarnings      []string            `json:"ocr_warnings,omitempty"`
	Pages            int                 `json:"pages,omitempty"`
	Provider         string              `json:"provider,omitempty"`
	Model            string              `json:"model,omitempty"`
	SchemaMissing    bool                `json:"schema_missing,omitempty"`
}

type ConversionIssue struct {
	Field   string `json:"field"`
	Type    string `json:"type"`
	Input   string `json:"input"`
	Message string `json:"message"`
}

// Extraction is everything a successful attempt persists on the document.
type Extraction struct {
	Fields            map[string]any
	RawText           string
	Confidence        float64
	Method            string
	NeedsReview       bool
	Diagnostics       Diagnostics
	ProcessingSeconds float64
}

// PolicyRecord is the typed record produced from a completed document.
type PolicyRecord struct {
	DocumentID string         `json:"document_id"`
	Category   string         `json:"category"`
	Fields     map[string]any `json:"fields"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Progress is the step-level view returned by the progress query.
type Progress struct {
	DocumentID  string            `json:"document_id"`
	AttemptID   string            `json:"attempt_id"`
	Step        string            `json:"step"`
	Status      string            `json:"status"`
	Steps       map[string]string `json:"steps"`
	RetryCounts map[string]int    `json:"retry_counts,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	Message     string            `json:"message,omitempty"`
}

type Event struct {
	Name      string         `json:"event"`
	Addressee string         `json:"addressee,omitempty"`
	Payload   map[string]any `json:"payload"`
	At        time.Time      `json:"at"`
}
