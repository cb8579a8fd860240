package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/checkout/cache"
	"example.com/backstage/services/checkout/config"
	"example.com/backstage/services/checkout/handlers"
	"example.com/backstage/services/checkout/messaging"
)

// Server is the HTTP server for the API
type Server struct {
	cfg             config.Config
	router          *gin.Engine
	httpServer      *http.Server
	db              *gorm.DB
	views           *cache.RedisCache
	commands        messaging.Enqueuer
	checkoutHandler *handlers.CheckoutHandler
}

// NewServer creates a new API server
func NewServer(cfg config.Config, db *gorm.DB, views *cache.RedisCache, commands messaging.Enqueuer, checkoutHandler *handlers.CheckoutHandler, nrApp *newrelic.Application) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		cfg:             cfg,
		router:          gin.New(),
		db:              db,
		views:           views,
		commands:        commands,
		checkoutHandler: checkoutHandler,
	}

	server.setupMiddleware(nrApp)
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware(nrApp *newrelic.Application) {
	s.router.Use(RequestIDMiddleware())

	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware(s.cfg.CorsOrigins))
	}

	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())

	if nrApp != nil {
		s.router.Use(nrgin.Middleware(nrApp))
	}
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	v1 := s.router.Group("/api/v1")

	checkoutRoutes := v1.Group("/checkout")
	{
		checkoutRoutes.POST("", s.initiateCheckout)
		checkoutRoutes.GET("/:id", s.getCheckout)
	}

	orderRoutes := v1.Group("/orders")
	{
		orderRoutes.GET("/:id", s.getOrder)
	}

	cartRoutes := v1.Group("/carts")
	{
		cartRoutes.POST("", s.createCart)
		cartRoutes.POST("/:id/items", s.addCartItem)
		cartRoutes.DELETE("/:id/items/:sku", s.removeCartItem)
	}

	productRoutes := v1.Group("/products")
	{
		productRoutes.POST("", s.registerProduct)
		productRoutes.PUT("/:sku/price", s.changeProductPrice)
		productRoutes.DELETE("/:sku", s.deactivateProduct)
	}

	inventoryRoutes := v1.Group("/inventory")
	{
		inventoryRoutes.POST("", s.registerInventoryItem)
		inventoryRoutes.POST("/:sku/adjust", s.adjustStock)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ServerAddress,
		Handler: s.router,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.ServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
