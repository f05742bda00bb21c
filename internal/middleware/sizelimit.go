package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/pkg/httputil"
)

// DefaultMaxBodySize is the request ceiling. Inline audio is base64 encoded,
// so this caps a decoded recording at audio.InlineLimit(DefaultMaxBodySize),
// about 37.5 MiB, below the 45 MiB audio ceiling.
const DefaultMaxBodySize = 50 << 20

// SizeLimitConfig represents size limit configuration
type SizeLimitConfig struct {
	MaxBodySize   int64 // in bytes
	MaxHeaderSize int   // in bytes
	SkipPaths     []string
}

func DefaultSizeLimitConfig() SizeLimitConfig {
	return SizeLimitConfig{
		MaxBodySize:   DefaultMaxBodySize,
		MaxHeaderSize: 1 << 14, // 16KB
	}
}

// SizeLimit rejects declared oversize bodies up front and caps the rest with
// http.MaxBytesReader so chunked uploads cannot exceed the limit either.
func SizeLimit(config SizeLimitConfig) gin.HandlerFunc {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if c.Request.URL.Path == path {
				c.Next()
				return
			}
		}

		if c.Request.ContentLength > config.MaxBodySize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, httputil.ErrorBody{
				Message:   fmt.Sprintf("Request body exceeds %d MB", config.MaxBodySize>>20),
				RequestID: c.GetString(ContextRequestID),
			})
			return
		}

		if config.MaxHeaderSize > 0 {
			headerSize := 0
			for name, values := range c.Request.Header {
				headerSize += len(name)
				for _, value := range values {
					headerSize += len(value)
				}
			}
			if headerSize > config.MaxHeaderSize {
				c.AbortWithStatusJSON(http.StatusRequestHeaderFieldsTooLarge, httputil.ErrorBody{
					Message:   "Request headers too large",
					RequestID: c.GetString(ContextRequestID),
				})
				return
			}
		}

		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.MaxBodySize)
		}
		c.Next()
	}
}
