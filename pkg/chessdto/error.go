package chessdto

import (
	"encoding/json"
	"strings"
)

// DomainError is a server-reported failure delivered on the per-user error queue
// or in a REST error body.
type DomainError struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess server error"
}

// DecodeServerError accepts either a JSON error object or free text.
func DecodeServerError(body []byte) DomainError {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "{") {
		var de DomainError
		if err := json.Unmarshal(body, &de); err == nil && (de.Code != "" || de.Message != "") {
			return de
		}
	}
	if text == "" {
		return DomainError{Code: "unknown"}
	}
	return DomainError{Message: text}
}
