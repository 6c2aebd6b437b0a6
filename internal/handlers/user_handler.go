package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"clipstream/internal/services"
)

type UserHandler struct {
	users services.UserService
}

func NewUserHandler(users services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// @Summary      Current user profile
// @Tags         Users
// @Produce      json
// @Success      200  {object}  models.PublicProfile
// @Failure      401  {object}  map[string]string
// @Router       /me [get]
func (h *UserHandler) Me(c *gin.Context) {
	session := currentSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	user, foundBy, err := h.users.ResolveSessionUser(session)
	if err != nil {
		if err == services.ErrUserNotFound {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		log.Printf("[users][me] resolve failed: email=%q err=%v", session.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
		return
	}
	if foundBy == services.FoundByEmail {
		log.Printf("[users][me] session resolved by email fallback: user_id=%d", user.ID)
	}

	c.JSON(http.StatusOK, user.Public())
}
