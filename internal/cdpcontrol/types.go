package cdpcontrol

import (
	"errors"
	"fmt"
)

const (
	CodeValidation       = "VALIDATION"
	CodePageNotFound     = "PAGE_NOT_FOUND"
	CodeElementNotFound  = "ELEMENT_NOT_FOUND"
	CodeEvalFailure      = "EVAL_FAILURE"
	CodeEvalTimeout      = "EVAL_TIMEOUT"
	CodeCDPUnavailable   = "CDP_UNAVAILABLE"
	CodeAuthFailed       = "AUTH_FAILED"
	CodeMFARequired      = "MFA_REQUIRED"
	CodeExtractionFailed = "EXTRACTION_FAILED"
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	CodeContractNotFound = "CONTRACT_NOT_FOUND"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// NewError builds a CodedError for callers outside this package.
func NewError(code, msg string, cause error) error {
	return newError(code, msg, cause)
}

// ErrorCode returns the code of the first CodedError in err's chain, or "".
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// PageInfo describes a browser tab that matches the tab filter.
type PageInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// Cookie mirrors the subset of Network.Cookie that is persisted with a
// session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// ElementBox is a visible element's bounding box in viewport CSS pixels.
type ElementBox struct {
	Family string  `json:"family"`
	Text   string  `json:"text,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ScanClickResult reports the outcome of the in-page text scan fallback.
type ScanClickResult struct {
	Clicked bool    `json:"clicked"`
	Tag     string  `json:"tag,omitempty"`
	Text    string  `json:"text,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}
