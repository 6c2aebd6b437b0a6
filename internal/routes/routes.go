package routes

import (
	"github.com/gin-gonic/gin"

	"clipstream/internal/handlers"
	"clipstream/internal/middleware"
	"clipstream/internal/repositories"
	"clipstream/internal/utils"
)

func SetupRoutes(
	r *gin.Engine,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	codec *utils.SessionTokenCodec,
	sessions repositories.SessionRepository,
	cookieName string,
) *gin.Engine {

	// ---- public
	r.POST("/login", authHandler.Login)

	// ---- protected (session cookie)
	r.Use(middleware.SessionMiddleware(codec, sessions, cookieName))

	r.POST("/logout", authHandler.Logout)
	r.GET("/me", userHandler.Me)

	return r
}
