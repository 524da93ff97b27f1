package common

import (
	"fmt"
	"net/http"
	"strings"
)

// GetAndValidateQueryParam returns the named query parameter.
// Validation rules:
// - Must be present and not empty after trimming whitespace
// - Must not contain any whitespace characters
func GetAndValidateQueryParam(r *http.Request, paramName string) (string, error) {
	value := r.URL.Query().Get(paramName)

	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("missing %s", paramName)
	}

	if strings.ContainsAny(value, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", paramName)
	}

	return value, nil
}
