package resilience

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass is the retry-relevant classification of a step error.
type ErrorClass string

const (
	ClassTransient ErrorClass = "TRANSIENT"
	ClassPermanent ErrorClass = "PERMANENT"
	ClassTimeout   ErrorClass = "TIMEOUT"
	ClassUnknown   ErrorClass = "UNKNOWN"
)

// Classification catalogue. Matching is case-insensitive substring search over
// the error message, checked in the order timeout, permanent, transient.
// The lists are fixed; adapters that need different behaviour should return
// typed errors instead of relying on message phrasing.
var (
	timeoutPhrases = []string{
		"timed out",
		"timeout",
		"deadline exceeded",
	}

	permanentPhrases = []string{
		"unauthorized",
		"forbidden",
		"permission denied",
		"invalid credentials",
		"authentication failed",
		"validation failed",
		"invalid input",
		"bad request",
		"not implemented",
		"unsupported",
	}

	transientPhrases = []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"unexpected eof",
		"too many requests",
		"rate limit",
		"quota exceeded",
		"429",
		"500",
		"502",
		"503",
		"504",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"deadlock",
		"temporarily unavailable",
		"try again",
	}
)

// Classify maps an error to an ErrorClass. Context deadline errors always
// classify as TIMEOUT; context cancellation is deliberately not classified
// here because it must propagate unchanged (see Retry).
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range timeoutPhrases {
		if strings.Contains(msg, phrase) {
			return ClassTimeout
		}
	}
	for _, phrase := range permanentPhrases {
		if strings.Contains(msg, phrase) {
			return ClassPermanent
		}
	}
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return ClassTransient
		}
	}
	return ClassUnknown
}
