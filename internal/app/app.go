package app

import (
	"database/sql"
	"fmt"
	"log"

	"clipstream/internal/config"
	"clipstream/internal/handlers"
	"clipstream/internal/repositories"
	"clipstream/internal/routes"
	"clipstream/internal/services"
	"clipstream/internal/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	_ "clipstream/docs"
)

func Run() {
	cfg := config.LoadConfig()

	// === DB ===
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}()

	// === Redis (rate limiting) ===
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// === Repos ===
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	pendingRepo := repositories.NewPendingVerificationRepository(db)

	// === Services ===
	authService := services.NewAuthService()
	emailService := services.NewEmailService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.Email.FromEmail,
	)
	userService := services.NewUserService(userRepo, sessionRepo)
	limiter := services.NewRateLimitService(rdb)
	captchaService := services.NewCaptchaService(cfg.Captcha.SecretKey, cfg.Captcha.VerifyURL)
	otpService := services.NewOtpService(pendingRepo, emailService)

	codec, err := utils.NewSessionTokenCodec(cfg.Security.EncryptionSecret)
	if err != nil {
		log.Fatal("Failed to initialize session token codec: ", err)
	}

	// === Handlers ===
	authHandler := handlers.NewAuthHandler(
		userService,
		authService,
		limiter,
		captchaService,
		otpService,
		sessionRepo,
		codec,
		cfg.Security.CookieName,
	)
	userHandler := handlers.NewUserHandler(userService)

	// === Gin ===
	router := gin.Default()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Swagger
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	routes.SetupRoutes(
		router,
		authHandler,
		userHandler,
		codec,
		sessionRepo,
		cfg.Security.CookieName,
	)

	// === Run ===
	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Server listening on %s", listenAddr)
	if err := router.Run(listenAddr); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
