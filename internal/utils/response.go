package utils

import "time"

// APIResponse is the envelope every endpoint returns. On errors, Kind carries
// the machine-readable failure class (validation, conflict, not_found,
// dependency, integrity, internal) alongside the human-readable detail.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, kind, detail string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Kind:      kind,
		Error:     detail,
		Timestamp: time.Now(),
	}
}
