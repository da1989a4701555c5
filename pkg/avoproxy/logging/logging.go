package logging

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// RequestIDHeader carries the request id back to the caller.
	RequestIDHeader = "X-Request-Id"
	// ContextKeyRequestID is the key for the request id in gin context
	ContextKeyRequestID = "request_id"
)

// Setup configures the global zerolog logger. Development gets a human
// readable console writer, every other environment logs JSON.
func Setup(development bool, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if development {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "avoproxy").Logger()
}

// RequestLogger logs every request once it has been handled and tags it
// with a request id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// RequestID returns the request id stored by RequestLogger.
func RequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}
