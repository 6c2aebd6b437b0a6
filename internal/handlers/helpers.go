package handlers

import (
	"github.com/gin-gonic/gin"

	"clipstream/internal/models"
)

// sessionContextKey is set by the session middleware for protected routes.
const sessionContextKey = "session"

func currentSession(c *gin.Context) *models.Session {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	s, ok := v.(*models.Session)
	if !ok {
		return nil
	}
	return s
}
