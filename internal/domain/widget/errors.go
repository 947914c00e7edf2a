package widget

import "errors"

// Client-originated error codes. Backend errors keep their own codes and are
// relayed verbatim; ErrCodeProcessing wraps only backend failures that arrive
// without one.
const (
	ErrCodeNoMerchantKey  = "NO_MERCHANT_KEY"
	ErrCodeNoProductImage = "NO_PRODUCT_IMAGE"
	ErrCodeInvalidFile    = "INVALID_FILE"
	ErrCodeFileTooLarge   = "FILE_TOO_LARGE"
	ErrCodeCamera         = "CAMERA_ERROR"
	ErrCodeInvalidSession = "INVALID_SESSION"
	ErrCodeProcessing     = "PROCESSING_ERROR"
)

// Error pairs a short internal code with a human-readable message. UI layers
// render the message, never the code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError builds a widget error value.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError extracts a widget error from an error chain, wrapping anything else
// as a processing error so the original message survives.
func AsError(err error) *Error {
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	return &Error{Code: ErrCodeProcessing, Message: err.Error()}
}
