package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"

	"github.com/liverace/backend/api/handlers"
	"github.com/liverace/backend/internal/auth"
	"github.com/liverace/backend/internal/broadcast"
	"github.com/liverace/backend/internal/db"
	"github.com/liverace/backend/internal/repository"
	"github.com/liverace/backend/internal/ws"
)

// config holds the server's environment configuration.
type config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DBPath      string `env:"DB_PATH" envDefault:"data/races.db"`
	TokenIssuer string `env:"TOKEN_ISSUER" envDefault:"liverace"`
	TokenSecret string `env:"TOKEN_SECRET,required"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Broadcast groups and the race store publishing into them
	groups := broadcast.NewRegistry()
	raceStore := repository.NewRaceStore(database, groups)
	botRepo := repository.NewBotRepository(database)

	// Identity resolution
	resolver := auth.NewTokenIntrospector(cfg.TokenIssuer, []byte(cfg.TokenSecret))

	// Connection handling
	wsHandler := ws.NewHandler(raceStore, groups, resolver, botRepo)

	// Initialize handlers
	raceHandler := handlers.NewRaceHandler(raceStore)
	socketHandler := handlers.NewRaceSocketHandler(wsHandler)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		raceHandler.RegisterRoutes(api)
	}

	// WebSocket routes
	sockets := r.Group("/ws")
	{
		socketHandler.RegisterRoutes(sockets)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
