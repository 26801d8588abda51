package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"eventapp-telegram-bot/internal/common/errors"
	"eventapp-telegram-bot/internal/common/logger"
)

const requestIDKey = "request_id"

// RequestID propagates X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// ErrorHandler recovers panics, logs the stack and answers 500 in the
// standard error shape. The server keeps running.
func ErrorHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error().
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("panic", fmt.Sprint(recovered)).
			Bytes("stack", debug.Stack()).
			Msg("Panic recovered")

		appErr := errors.New(errors.ErrCodeInternal, "Internal server error")
		WriteError(c, http.StatusInternalServerError, appErr)
	})
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Code      errors.ErrorCode `json:"code"`
	Timestamp time.Time        `json:"timestamp"`
	RequestID string           `json:"request_id,omitempty"`
}

// StatusFor maps an error to its default HTTP status.
func StatusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation, errors.ErrCodeAuth,
		errors.ErrCodeAccountNotFound, errors.ErrCodeInvalidCredentials,
		errors.ErrCodeAlreadyLinked, errors.ErrCodeUserLinkedElsewhere:
		return http.StatusBadRequest
	case errors.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrCodeSessionConflict:
		return http.StatusConflict
	case errors.ErrCodeUpstreamAPI, errors.ErrCodeTelegramAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError logs err with request context and aborts with status.
func WriteError(c *gin.Context, status int, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrCodeInternal, "Internal server error")
	}
	requestID := GetRequestID(c)
	appErr.WithContext("path", c.Request.URL.Path).
		WithContext("method", c.Request.Method)

	logError(c, status, appErr, requestID)

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     appErr.Message,
		Code:      appErr.Code,
		Timestamp: appErr.Timestamp,
		RequestID: requestID,
	})
}

func logError(c *gin.Context, status int, appErr *errors.AppError, requestID string) {
	event := logger.Info()
	switch {
	case appErr.IsInternal() || status >= http.StatusInternalServerError:
		event = logger.Error()
	case appErr.Code == errors.ErrCodeAuth || appErr.IsCredentialFailure():
		event = logger.Warn()
	}
	event = event.
		Str("request_id", requestID).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", status).
		Str("error_code", string(appErr.Code))
	if len(appErr.Details) > 0 {
		event = event.Interface("details", appErr.Details)
	}
	if appErr.Cause != nil {
		event = event.Err(appErr.Cause)
	}
	event.Msg(appErr.Message)
}

func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
