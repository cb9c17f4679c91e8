package httpapi

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/quizdeck/internal/convert"
)

// Logging logs one line of request metadata per call. Payloads and the API
// key are never logged.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("action", c.GetString(actionKey)),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", c.ClientIP()),
		)
	}
}

// Recover turns a handler panic into a 500 error envelope.
func Recover(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("action", c.GetString(actionKey)),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, convert.Envelope{Error: "internal"})
			}
		}()
		c.Next()
	}
}
