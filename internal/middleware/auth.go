package middleware

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"clipstream/internal/repositories"
	"clipstream/internal/utils"
)

// public endpoints that never require a session
func isPublicPath(path string) bool {
	switch path {
	case "/login":
		return true
	}
	if strings.HasPrefix(path, "/swagger") ||
		strings.HasPrefix(path, "/healthz") {
		return true
	}
	return false
}

// SessionMiddleware authenticates requests by the session cookie: the token
// must decrypt cleanly (any tampered segment fails), the session must exist
// in the store, and it must not be expired.
func SessionMiddleware(codec *utils.SessionTokenCodec, sessions repositories.SessionRepository, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if isPublicPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		// tamper check before touching the store
		if _, err := codec.Decode(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}

		session, err := sessions.GetByToken(token)
		if err != nil {
			log.Printf("[middleware][session] store lookup failed: err=%v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		if session == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}
		if time.Now().After(session.ExpiresAt) {
			if err := sessions.DeleteByToken(token); err != nil {
				log.Printf("[middleware][session] expired cleanup failed: err=%v", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}

		c.Set("session", session)
		c.Next()
	}
}
