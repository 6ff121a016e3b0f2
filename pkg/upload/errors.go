package upload

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationErrors collects per-field messages for a rejected request.
// The API layer renders it as the errors object of the response
// envelope.
type ValidationErrors map[string][]string

// Add appends a message for a field.
func (e ValidationErrors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// Error implements the error interface with a stable field order.
func (e ValidationErrors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(e[f], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// AsValidationErrors extracts ValidationErrors from an error, if it is one.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	ve, ok := err.(ValidationErrors)
	return ve, ok
}
