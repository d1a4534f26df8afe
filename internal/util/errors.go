package util

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMissingSourceFile = errors.New("document has no source file")
	ErrMissingCategory   = errors.New("document has no category")
	ErrSourceUnreadable  = errors.New("source file is not accessible")
	ErrNotConfigured     = errors.New("llm credentials not configured")

	ErrAlreadyProcessing = errors.New("document is already processing")
	ErrAlreadyCompleted  = errors.New("document is completed; reset it before processing again")
	ErrStaleAttempt      = errors.New("processing attempt was superseded")
	ErrProcessingFailed  = errors.New("document processing failed")

	ErrUnknownCategory = errors.New("unknown category")

	ErrQuotaExhausted = errors.New("provider quota exhausted")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrTransient      = errors.New("transient provider error")
	ErrPermanent      = errors.New("permanent provider error")
	ErrContextTooLong = errors.New("context too long")
)
