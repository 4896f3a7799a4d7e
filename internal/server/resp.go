package server

import (
	"github.com/gin-gonic/gin"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

const (
	errInternalServer  = "An unexpected error occurred."
	errPayloadTooLarge = "Request payload too large."
	errSessionNotFound = "Session not found."
)

// Message is the envelope of status-only responses.
type Message struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func errorJSON(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, Message{Status: statusError, Message: message})
}

func errorDetails(c *gin.Context, code int, message string, err error) {
	c.AbortWithStatusJSON(code, Message{Status: statusError, Message: message, Details: err.Error()})
}
