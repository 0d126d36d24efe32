package domain

import "fmt"

// ValidationError reports a record that violates its construction invariants.
// It is a programming-error class fault and must never be coerced into a no-trade.
type ValidationError struct {
	Record  string      `json:"record"`
	Field   string      `json:"field"`
	Value   interface{} `json:"value"`
	Message string      `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s.%s=%v: %s", e.Record, e.Field, e.Value, e.Message)
}

func invalid(record, field string, value interface{}, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Record:  record,
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	}
}
