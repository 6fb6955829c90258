package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenAuth validates the Bearer token against the configured one.
func TokenAuth(token string) gin.HandlerFunc {
	want := hashToken(token)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API token"})
			return
		}
		got := hashToken(strings.TrimPrefix(header, "Bearer "))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API token"})
			return
		}
		c.Next()
	}
}

// hashToken digests a token so tokens of different lengths compare in constant time.
func hashToken(raw string) [sha256.Size]byte {
	return sha256.Sum256([]byte(raw))
}
