package models

import (
	"errors"
	"fmt"
)

// Code classifies a scrape failure.
type Code string

const (
	CodeInvalidURL          Code = "INVALID_URL"
	CodeNavigation          Code = "NAVIGATION_ERROR"
	CodeProxy               Code = "PROXY_ERROR"
	CodeScraper             Code = "SCRAPER_ERROR"
	CodeUnsupportedPlatform Code = "UNSUPPORTED_PLATFORM"
)

// Error is a classified scrape error. Two Errors match under errors.Is
// when their codes are equal, so the package sentinels work as classes.
type Error struct {
	Code    Code
	Message string
	Err     error
}

var (
	ErrInvalidURL          = &Error{Code: CodeInvalidURL, Message: "invalid product URL"}
	ErrNavigation          = &Error{Code: CodeNavigation, Message: "navigation failed"}
	ErrProxy               = &Error{Code: CodeProxy, Message: "no usable proxy"}
	ErrScraper             = &Error{Code: CodeScraper, Message: "scrape failed"}
	ErrUnsupportedPlatform = &Error{Code: CodeUnsupportedPlatform, Message: "unsupported platform"}
)

// NewError builds a classified error. err may be nil.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Errorf builds a classified error with a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf returns the classification of err. Unclassified errors are
// reported as CodeScraper.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeScraper
}

// IsClassified reports whether err carries a specific, non-generic code.
func IsClassified(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code != CodeScraper
}
