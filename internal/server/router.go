package server

import (
	"net/http"
	"strings"
	"time"

	"todo-tracker/internal/handlers"
	"todo-tracker/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func NewRouter(app *App) *gin.Engine {
	if app.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithLog(app.Logger))
	router.Use(middleware.RequestLogger(app.Logger.WithPrefix("http")))
	router.Use(app.Monitor.Metrics.Middleware())
	router.Use(cors.New(corsConfig(app.Config.Server.AllowedOrigins)))

	app.Monitor.RegisterRoutes(router)
	router.GET("/ws", gin.WrapF(app.Hub.ServeWS))
	if strings.HasPrefix(app.Config.Blob.BaseURL, "/") {
		router.Static(app.Config.Blob.BaseURL, app.Config.Blob.Dir)
	}

	api := router.Group("/api")
	if app.RateLimiter != nil {
		api.Use(app.RateLimiter.Middleware())
	}

	authHandler := handlers.NewAuthHandler(app.Accounts, app.Logger.WithPrefix("auth"))
	authHandler.RegisterPublicRoutes(api)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(app.Accounts))
	protected.GET("/auth/me", authHandler.Me)
	handlers.NewTodoHandler(app.Todos, app.Logger.WithPrefix("todos")).RegisterRoutes(protected)

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
