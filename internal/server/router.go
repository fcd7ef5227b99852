package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slotter-org/roomchat-backend/internal/handlers"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/middleware"
)

type RouterConfig struct {
	Log            *logger.Logger
	AllowedOrigins []string
	AuthHandler    *handlers.AuthHandler
	AuthMiddleware *middleware.AuthMiddleware
	RoomHandler    *handlers.RoomHandler
	MessageHandler *handlers.MessageHandler
	HealthHandler  *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Observe(cfg.Log))

	//-----------------------------------------
	// Cors Setup
	//-----------------------------------------
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{middleware.ProcessTimeHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	router.Use(cors.New(corsCfg))

	//-----------------------------------------
	// Health Routes
	//-----------------------------------------
	router.GET("/", cfg.HealthHandler.Root)
	router.GET("/health", cfg.HealthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	//-----------------------------------------
	// Public Routes
	//-----------------------------------------
	auth := router.Group("/auth")
	{
		auth.POST("/signup", cfg.AuthHandler.Signup)
		auth.POST("/login", cfg.AuthHandler.Login)
	}

	//------------------------------------------
	// Protected Routes
	//------------------------------------------
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	protected.GET("/auth/me", cfg.AuthHandler.Me)

	//Rooms
	protected.POST("/rooms", cfg.RoomHandler.CreateRoom)
	protected.GET("/rooms", cfg.RoomHandler.ListRooms)
	protected.GET("/rooms/:room_id", cfg.RoomHandler.GetRoom)

	//Messages
	protected.POST("/rooms/:room_id/messages", cfg.MessageHandler.PostMessage)
	protected.GET("/rooms/:room_id/messages", cfg.MessageHandler.ListMessages)
	protected.GET("/messages/:correlation_id", cfg.MessageHandler.GetMessage)

	//------------------------------------------
	// Legacy Routes
	//------------------------------------------
	router.POST("/signup", handlers.MovedTo("/auth/signup"))
	router.POST("/login", handlers.MovedTo("/auth/login"))
	router.POST("/room", handlers.MovedTo("/rooms"))
	router.GET("/room/:room_id", handlers.MovedTo("/rooms"))
	router.GET("/all_room", handlers.MovedTo("/rooms"))

	return router
}
