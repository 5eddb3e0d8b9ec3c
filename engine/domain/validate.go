package domain

import (
	"strconv"
	"strings"
)

// Limits accepted for a query-time request.
const (
	MinLimit = 1
	MaxLimit = 100
)

// ValidateRequest checks a query-path request. A zero Limit means "use the
// index default".
func ValidateRequest(req ProcessRequest) error {
	if strings.TrimSpace(req.UID) == "" {
		return NewValidationError("modelUid", req.UID, ErrEmptyUID)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return NewValidationError("prompt", req.Prompt, ErrEmptyPrompt)
	}
	if req.Limit != 0 && (req.Limit < MinLimit || req.Limit > MaxLimit) {
		return NewValidationError("limit", strconv.Itoa(req.Limit), ErrLimitOutOfRange)
	}
	return nil
}
