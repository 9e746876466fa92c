package main

import (
	"context"
	"log"
	"time"

	"civicvoice-backend/config"
	"civicvoice-backend/handlers"
	"civicvoice-backend/repository"
	"civicvoice-backend/service"
	"civicvoice-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from project root (relative to cmd/server/)
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}

	cfg := config.Load()

	db, err := initPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize Postgres:", err)
	}
	defer db.Close()

	blobStorage, err := storage.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Println("Storage initialized")

	// Repositories
	petitionRepo := repository.NewPetitionRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	// Services
	petitionService := service.NewPetitionService(
		service.WithPetitionStore(petitionRepo),
		service.WithCategoryStore(categoryRepo),
		service.WithBlobStore(blobStorage),
		service.WithMaxUploadBytes(cfg.MaxUploadBytes),
	)
	authService := service.NewAuthService(userRepo, tokenRepo, cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshWindow)

	// Revocation rows for tokens past their expiry are dead weight; sweep hourly.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := tokenRepo.PurgeExpired(context.Background()); err != nil {
				log.Printf("Warning: failed to purge expired token revocations: %v", err)
			}
		}
	}()

	// Handlers
	petitionHandler := handlers.NewPetitionHandler(petitionService)
	categoryHandler := handlers.NewCategoryHandler(categoryRepo)
	attachmentHandler := handlers.NewAttachmentHandler(petitionRepo, blobStorage)
	authHandler := handlers.NewAuthHandler(authService)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// Public routes
	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)
	r.POST("/refresh", authHandler.Refresh)
	r.GET("/peticiones", petitionHandler.List)
	r.GET("/peticiones/:id", petitionHandler.Show)
	r.GET("/categorias", categoryHandler.List)
	r.GET("/archivos/:id", attachmentHandler.Download)

	// Authenticated routes
	authorized := r.Group("/", handlers.AuthRequired([]byte(cfg.JWTSecret), tokenRepo))
	{
		authorized.GET("/me", authHandler.Me)
		authorized.POST("/logout", authHandler.Logout)
		authorized.GET("/peticiones/mias", petitionHandler.Mine)
		authorized.POST("/peticiones", petitionHandler.Create)
		authorized.PUT("/peticiones/:id", petitionHandler.Update)
		authorized.DELETE("/peticiones/:id", petitionHandler.Delete)
		authorized.PUT("/peticiones/firmar/:id", petitionHandler.Sign)
		authorized.PUT("/peticiones/estado/:id", petitionHandler.Accept)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func initPostgres(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, err
	}

	log.Println("Postgres connection established")
	return pool, nil
}
