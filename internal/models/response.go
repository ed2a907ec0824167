package models

// APIResponse is the JSON envelope returned by every HTTP endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	RunID   string      `json:"run_id,omitempty"`
}

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Success creates a success response with a result payload.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: StatusSuccess, Result: result}
}

// SuccessWithMessage creates a success response with a message and optional payload.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: StatusSuccess, Message: message, Result: result}
}

// Error creates an error response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: StatusError, Message: message}
}

// ErrorWithRunID creates an error response carrying the request correlation id.
func ErrorWithRunID(message, runID string) APIResponse {
	return APIResponse{Status: StatusError, Message: message, RunID: runID}
}
