package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"whisker/internal/user"
	"whisker/pkg/jwt"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()

		c.Next()

		latency := time.Since(t)
		log.Printf("Latency: %v | Status: %v | Method: %s | Path: %s",
			latency,
			c.Writer.Status(),
			c.Request.Method,
			c.Request.URL.Path,
		)
	}
}

// AuthMiddleware validates the bearer token and loads the authenticated
// principal into the context for handlers downstream.
func AuthMiddleware(tokens *jwt.JWT, users user.UseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		principal, err := users.ByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set("user", principal)
		c.Next()
	}
}
