package httputil

// Machine-readable error codes returned alongside human-readable messages.
// Clients should branch on these, not on message text.
const (
	CodeInvalidRequestBody = "invalid_request_body"
	CodeValidationFailed   = "validation_failed"
	CodeInvalidCredentials = "invalid_credentials"
	CodeEmailNotConfirmed  = "email_not_confirmed"
	CodeTokenInvalid       = "token_invalid"
	CodeTokenRequired      = "token_required"
	CodeTooManyRequests    = "too_many_requests"
	CodeMissingSession     = "missing_session"
	CodeInvalidSession     = "invalid_session"
	CodeInternalError      = "internal_error"
)
