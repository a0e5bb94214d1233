package services

import (
	"errors"
	"fmt"

	"github.com/desertthunder/qmx/internal/shared"
)

// ErrNoSession is returned by [Current] when ctx carries neither a scope nor a task.
var ErrNoSession = errors.New("no session in context")

// ResponseCodeError is a non-zero, non-expiry result code for one module/method call.
type ResponseCodeError struct {
	Module  string
	Method  string
	Code    int
	Message string
}

func (e *ResponseCodeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s.%s: result code %d: %s", e.Module, e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s.%s: result code %d", e.Module, e.Method, e.Code)
}

func (e *ResponseCodeError) Unwrap() error { return shared.ErrAPIRequest }

// CredentialExpiredError reports that the service rejected the credential as expired or invalid.
// It is returned regardless of [Request.IgnoreCode].
type CredentialExpiredError struct {
	Module string
	Method string
	Code   int
}

func (e *CredentialExpiredError) Error() string {
	return fmt.Sprintf("%s.%s: credential expired (code %d)", e.Module, e.Method, e.Code)
}

func (e *CredentialExpiredError) Unwrap() error { return shared.ErrTokenExpired }

// expiredCodes are the result codes that mean the credential is no longer accepted.
var expiredCodes = map[int]bool{
	1000: true,
}

// codeSignInvalid is returned by the encrypted endpoint when the sign parameter does not match.
const codeSignInvalid = 2000

// IsExpiredCode reports whether code belongs to the credential-expiry family.
func IsExpiredCode(code int) bool {
	return expiredCodes[code]
}
