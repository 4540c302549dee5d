package models

// Error kinds are the stable names used in logs and in the errorType field
// of published error events. They are part of the external contract.
const (
	ErrorKindValidation        = "validation"
	ErrorKindNotFound          = "not_found"
	ErrorKindStoreUnavailable  = "store_unavailable"
	ErrorKindMCPError          = "mcp_error"
	ErrorKindMCPUnreachable    = "mcp_unreachable"
	ErrorKindInvalidTransition = "invalid_state_transition"
	ErrorKindHandlerFailure    = "handler_failure"
	ErrorKindInternal          = "internal"
)
