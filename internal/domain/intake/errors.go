package intake

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates the intake record does not exist
var ErrNotFound = errors.New("intake record not found")

// ErrConflict indicates the record changed state under a concurrent writer;
// the attempted transition was rejected, not merged
var ErrConflict = errors.New("intake record modified concurrently")

// RuleError is an expected, recoverable business-rule rejection
type RuleError struct {
	Reason string
}

func (e *RuleError) Error() string { return e.Reason }

func ruleErrorf(format string, args ...interface{}) *RuleError {
	return &RuleError{Reason: fmt.Sprintf(format, args...)}
}

// IsRuleError reports whether err is a business-rule rejection
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}

// Violation describes one invalid (slot, chosen time) pair
type Violation struct {
	Label     string `json:"label"`
	ClockTime string `json:"clockTime"`
	Message   string `json:"message"`
}

// ValidationErrors is the full batch of chosen-time violations for one
// medication. Validation never stops at the first failure.
type ValidationErrors []Violation

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, viol := range v {
		msgs[i] = viol.Message
	}
	return strings.Join(msgs, "; ")
}

// AsValidationErrors unwraps err into a violation batch if it is one
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
