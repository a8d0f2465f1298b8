package router

import (
	"net/http"
	"strings"
)

// ErrorClass is the classification handleFailure assigns an error.
type ErrorClass string

const (
	ErrorRateLimit ErrorClass = "rate_limit"
	ErrorAuth      ErrorClass = "auth"
	ErrorTimeout   ErrorClass = "timeout"
	ErrorTransient ErrorClass = "transient"
	ErrorUnknown   ErrorClass = "unknown"
)

var retryableClasses = map[ErrorClass]bool{
	ErrorRateLimit: true,
	ErrorAuth:      true,
	ErrorTimeout:   true,
	ErrorTransient: true,
}

// ClassifyError classifies a provider failure using structured fields
// first (an HTTP status code, 0 if not applicable), then message
// substrings.
func ClassifyError(statusCode int, err error) ErrorClass {
	switch statusCode {
	case http.StatusTooManyRequests:
		return ErrorRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorAuth
	}
	if statusCode >= 500 && statusCode < 600 {
		return ErrorTransient
	}

	if err == nil {
		return ErrorUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource_exhausted"):
		return ErrorRateLimit
	case strings.Contains(msg, "authentication failed") || strings.Contains(msg, "unauthorized"):
		return ErrorAuth
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrorTimeout
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "temporarily unavailable"):
		return ErrorTransient
	}
	return ErrorUnknown
}

// IsRetryable reports whether ClassifyError's result should trigger a
// failover attempt.
func IsRetryable(class ErrorClass) bool {
	return retryableClasses[class]
}

// ToolCallRecord is one completed tool call/result pair retained in a
// handoff bundle.
type ToolCallRecord struct {
	ToolName string
	Args     string
	Result   string
	Tokens   int // approximate size used for trimming
}

// HandoffBundle is constructed by the FailoverController when a task
// fails over to a different provider.
type HandoffBundle struct {
	Summary      string
	ToolHistory  []ToolCallRecord
	SystemPrompt string
}

func (b HandoffBundle) tokenCount() int {
	n := len(b.Summary)/4 + len(b.SystemPrompt)/4
	for _, t := range b.ToolHistory {
		n += t.Tokens
	}
	return n
}

// FailoverController picks an alternative provider on failure and
// assembles a trimmed handoff bundle for it.
type FailoverController struct {
	router       *Router
	tokenCeiling int
}

// NewFailoverController returns a controller using router for
// alternative-provider selection and tokenCeiling as the handoff
// bundle's size limit.
func NewFailoverController(r *Router, tokenCeiling int) *FailoverController {
	return &FailoverController{router: r, tokenCeiling: tokenCeiling}
}

// HandleFailure takes the failure's classification (callers classify
// at the point where the status code or error event is still in hand,
// via ClassifyError); if retryable, it selects an alternative capable
// provider (excluding failed) via the Router and builds a handoff
// bundle. A nil second return means the caller should surface the
// error as-is: either the class isn't retryable, or no alternative
// provider exists.
func (fc *FailoverController) HandleFailure(
	class ErrorClass,
	failed ProviderInfo,
	providers []ProviderInfo,
	task Task,
	toolHistory []ToolCallRecord,
	systemPrompt string,
) (ProviderInfo, *HandoffBundle, bool) {
	if !IsRetryable(class) {
		return ProviderInfo{}, nil, false
	}

	var candidates []ProviderInfo
	for _, p := range providers {
		if p.Name != failed.Name {
			candidates = append(candidates, p)
		}
	}

	alt, ok := fc.router.SelectProvider(candidates, task)
	if !ok {
		return ProviderInfo{}, nil, false
	}

	bundle := &HandoffBundle{
		Summary:      "failing over from " + failed.Name + " due to " + string(class),
		ToolHistory:  append([]ToolCallRecord{}, toolHistory...),
		SystemPrompt: systemPrompt,
	}
	for bundle.tokenCount() > fc.tokenCeiling && len(bundle.ToolHistory) > 0 {
		bundle.ToolHistory = bundle.ToolHistory[1:]
	}

	return alt, bundle, true
}
