package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"opinion-market/internal/blockchain"
	"opinion-market/internal/config"
	"opinion-market/internal/database"
	"opinion-market/internal/handlers"
	"opinion-market/internal/jobs"
	"opinion-market/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	if err := database.Connect(cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize chain client with the server signing key
	signer, err := blockchain.NewLocalSigner(cfg.Chain.PrivateKey)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}
	chainClient, err := blockchain.NewClient(cfg.Chain.RPCURL, cfg.Chain.ChainID, signer)
	if err != nil {
		log.Fatalf("Failed to connect to chain: %v", err)
	}
	btcFactory := blockchain.NewBTCFactory(chainClient, cfg.Chain.BTCFactoryAddress)

	// Initialize services
	priceService := services.NewPriceService()
	twitterService := services.NewTwitterService(
		cfg.Twitter.ClientID,
		cfg.Twitter.ClientSecret,
		cfg.Twitter.CallbackURL,
	)
	eligibilityService := services.NewEligibilityService(database.GetDB())
	marketService := services.NewMarketService(
		database.GetDB(),
		eligibilityService,
		chainClient,
		cfg.App.AdminWallets,
		cfg.Chain.CreationFeeWei,
	)
	positionService := services.NewPositionService(database.GetDB(), marketService)
	creatorService := services.NewCreatorService(
		database.GetDB(),
		eligibilityService,
		twitterService,
		chainClient,
		chainClient,
	)
	btcMarketService := services.NewBTCMarketService(database.GetDB(), btcFactory, priceService)

	// Initialize handlers
	marketHandler := handlers.NewMarketHandler(marketService, positionService)
	creatorHandler := handlers.NewCreatorHandler(creatorService, eligibilityService, twitterService, cfg.Server.FrontendURL)
	btcMarketHandler := handlers.NewBTCMarketHandler(btcMarketService, priceService)

	// Start the scheduled market generator
	btcMarketJob := jobs.NewBTCMarketJob(btcMarketService)
	btcMarketJob.Start()
	defer btcMarketJob.Stop()

	// Set up Gin router
	router := gin.Default()

	// CORS middleware
	allowedOrigins := []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite dev server
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
	if cfg.Server.FrontendURL != "" {
		allowedOrigins = append(allowedOrigins, cfg.Server.FrontendURL)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Opinion market routes
	markets := router.Group("/markets")
	{
		markets.GET("", marketHandler.GetMarkets)
		markets.GET("/positions/:userAddress", marketHandler.GetUserPositions)
		markets.GET("/:id", marketHandler.GetMarketByID)
		markets.GET("/:id/volume", marketHandler.GetVolume)
		markets.POST("/create", marketHandler.CreateMarket)
		markets.POST("/creation-signature", marketHandler.GetCreationSignature)
		markets.POST("/volume/update", marketHandler.UpdateVolume)
		markets.POST("/:id/address", marketHandler.SetMarketAddress)
		markets.POST("/:id/position", marketHandler.UpdatePosition)
		markets.POST("/:id/moderate", marketHandler.ModerateMarket)
	}

	// Creator routes
	creators := router.Group("/creators")
	{
		creators.GET("", creatorHandler.GetCreators)
		creators.GET("/check-volume/:userId", creatorHandler.CheckVolume)
		creators.GET("/can-create-market/:creatorId", creatorHandler.CanCreateMarket)
		creators.GET("/holdings/:userAddress", creatorHandler.GetHoldings)
		creators.GET("/dashboard/:walletAddress", creatorHandler.GetDashboard)
		creators.GET("/auth/twitter", creatorHandler.TwitterAuth)
		creators.GET("/auth/twitter/callback", creatorHandler.TwitterCallback)
		creators.GET("/:id", creatorHandler.GetCreatorByID)
		creators.POST("/create", creatorHandler.CreateCreator)
		creators.POST("/verify-twitter", creatorHandler.VerifyTwitter)
		creators.POST("/check-eligibility", creatorHandler.CheckEligibility)
		creators.POST("/admin/create-share", creatorHandler.CreateShare)
		creators.POST("/update-share", creatorHandler.UpdateShare)
		creators.POST("/onboarding-signature", creatorHandler.OnboardingSignature)
	}

	// BTC market routes
	btcMarkets := router.Group("/btc-markets")
	{
		btcMarkets.GET("", btcMarketHandler.GetMarkets)
		btcMarkets.GET("/active", btcMarketHandler.GetActiveMarkets)
		btcMarkets.GET("/interval/:interval", btcMarketHandler.GetMarketsByInterval)
		btcMarkets.GET("/market/:address", btcMarketHandler.GetMarketsByAddress)
		btcMarkets.GET("/price", btcMarketHandler.GetPrice)
		btcMarkets.POST("/create/:interval", btcMarketHandler.CreateMarket)
		btcMarkets.POST("/resolve/:marketId", btcMarketHandler.ResolveMarket)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		log.Printf("Health check: http://localhost:%s/health", cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
