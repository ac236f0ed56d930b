package apierrors

import (
	"github.com/gin-gonic/gin"
)

// APIError represents the JSON error response structure
type APIError struct {
	Code    string `json:"code"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message"`
}

// SendError sends an error response using a registered error code
// It looks up the code in the registry for HTTP status and default message
func SendError(c *gin.Context, code string) {
	status := Registry.HTTPStatus(code)
	message := Registry.Message(code)
	c.JSON(status, gin.H{"error": APIError{Code: code, Message: message}})
}

// ErrorWithMessage sends an error response with a custom message
// Useful when the message needs dynamic content (e.g., validation details)
func ErrorWithMessage(c *gin.Context, code, message string) {
	status := Registry.HTTPStatus(code)
	c.JSON(status, gin.H{"error": APIError{Code: code, Message: message}})
}

// Respond renders any error returned by a core operation. Internal failures
// are masked behind the generic internal code.
func Respond(c *gin.Context, err error) {
	e := As(err)
	if e.Kind == KindInternal {
		_ = c.Error(err)
		SendError(c, CodeInternalError)
		return
	}
	status := Registry.HTTPStatus(e.Code)
	if _, ok := Registry.Get(e.Code); !ok {
		status = Registry.HTTPStatus(kindCodes[e.Kind])
	}
	c.JSON(status, gin.H{"error": APIError{Code: e.Code, Kind: e.Kind, Message: e.Message}})
}
