package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/checkout/handlers"
	"example.com/backstage/services/checkout/messaging"
)

// Cart, catalog and inventory writes go through the command bus like
// everything else. The API accepts the request, enqueues the command and
// answers 202; the command consumer applies it.

// CreateCartRequest is the request to create a cart
type CreateCartRequest struct {
	GuestToken string `json:"guest_token"`
}

// AddCartItemRequest is the request to add a cart line item
type AddCartItemRequest struct {
	SKU      string  `json:"sku" binding:"required"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity" binding:"required,gt=0"`
	Price    float64 `json:"price" binding:"gte=0"`
}

// RegisterProductRequest is the request to register a product
type RegisterProductRequest struct {
	SKU   string  `json:"sku" binding:"required"`
	Name  string  `json:"name" binding:"required"`
	Price float64 `json:"price" binding:"gte=0"`
}

// ChangePriceRequest is the request to change a product price
type ChangePriceRequest struct {
	Price float64 `json:"price" binding:"gte=0"`
}

// RegisterInventoryRequest is the request to track stock for a SKU
type RegisterInventoryRequest struct {
	SKU       string `json:"sku" binding:"required"`
	Available int    `json:"available" binding:"gte=0"`
}

// AdjustStockRequest is the request for a manual stock change
type AdjustStockRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) createCart(c *gin.Context) {
	var req CreateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cartID := uuid.New().String()
	s.enqueue(c, handlers.CreateCart, handlers.CreateCartCommand{
		CartID:     cartID,
		GuestToken: req.GuestToken,
	}, cartID, gin.H{"cartId": cartID})
}

func (s *Server) addCartItem(c *gin.Context) {
	var req AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cartID := c.Param("id")
	s.enqueue(c, handlers.AddCartItem, handlers.AddCartItemCommand{
		CartID:   cartID,
		SKU:      req.SKU,
		Name:     req.Name,
		Quantity: req.Quantity,
		Price:    req.Price,
	}, cartID, gin.H{"cartId": cartID})
}

func (s *Server) removeCartItem(c *gin.Context) {
	cartID := c.Param("id")
	sku := c.Param("sku")

	s.enqueue(c, handlers.RemoveCartItem, handlers.RemoveCartItemCommand{
		CartID: cartID,
		SKU:    sku,
	}, cartID, gin.H{"cartId": cartID})
}

func (s *Server) registerProduct(c *gin.Context) {
	var req RegisterProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.enqueue(c, handlers.RegisterProduct, handlers.RegisterProductCommand{
		SKU:   req.SKU,
		Name:  req.Name,
		Price: req.Price,
	}, req.SKU, gin.H{"sku": req.SKU})
}

func (s *Server) changeProductPrice(c *gin.Context) {
	var req ChangePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sku := c.Param("sku")
	s.enqueue(c, handlers.ChangeProductPrice, handlers.ChangeProductPriceCommand{
		SKU:   sku,
		Price: req.Price,
	}, sku, gin.H{"sku": sku})
}

func (s *Server) deactivateProduct(c *gin.Context) {
	sku := c.Param("sku")
	s.enqueue(c, handlers.DeactivateProduct, handlers.DeactivateProductCommand{
		SKU:    sku,
		Reason: c.Query("reason"),
	}, sku, gin.H{"sku": sku})
}

func (s *Server) registerInventoryItem(c *gin.Context) {
	var req RegisterInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.enqueue(c, handlers.RegisterInventoryItem, handlers.RegisterInventoryItemCommand{
		SKU:       req.SKU,
		Available: req.Available,
	}, req.SKU, gin.H{"sku": req.SKU})
}

func (s *Server) adjustStock(c *gin.Context) {
	var req AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sku := c.Param("sku")
	s.enqueue(c, handlers.AdjustStock, handlers.AdjustStockCommand{
		SKU:    sku,
		Delta:  req.Delta,
		Reason: req.Reason,
	}, sku, gin.H{"sku": sku})
}

func (s *Server) enqueue(c *gin.Context, commandType string, cmd interface{}, correlationID string, body gin.H) {
	meta := messaging.Metadata{CorrelationID: correlationID}
	if err := s.commands.Enqueue(c.Request.Context(), commandType, cmd, meta); err != nil {
		log.Error().Err(err).Str("commandType", commandType).Msg("Failed to enqueue command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue command"})
		return
	}

	body["accepted"] = true
	c.JSON(http.StatusAccepted, body)
}
