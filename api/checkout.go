package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/checkout/cache"
	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/handlers"
	"example.com/backstage/services/checkout/models"
)

const viewCacheTTL = 30 * time.Second

// InitiateCheckoutRequest is the request to start a checkout
type InitiateCheckoutRequest struct {
	CheckoutID      string              `json:"checkout_id"`
	CartID          string              `json:"cart_id" binding:"required"`
	GuestToken      string              `json:"guest_token"`
	Customer        domain.CustomerInfo `json:"customer" binding:"required"`
	ShippingAddress string              `json:"shipping_address" binding:"required"`
}

// initiateCheckout starts a checkout saga. The saga runs asynchronously;
// the client polls the checkout status with the returned id. Clients can
// pass their own checkout_id to make retried requests idempotent.
func (s *Server) initiateCheckout(c *gin.Context) {
	var req InitiateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.CheckoutID == "" {
		req.CheckoutID = uuid.New().String()
	}

	resp, err := s.checkoutHandler.HandleInitiateCheckout(c.Request.Context(), handlers.InitiateCheckoutCommand{
		CheckoutID:      req.CheckoutID,
		CartID:          req.CartID,
		GuestToken:      req.GuestToken,
		Customer:        req.Customer,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		if domain.IsValidationError(err) || errors.Is(err, domain.ErrPoisonMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("checkoutID", req.CheckoutID).Msg("Failed to initiate checkout")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initiate checkout"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"checkoutId": resp.CheckoutID,
		"orderId":    resp.OrderID,
		"status":     domain.SagaInitiated,
	})
}

// getCheckout returns the checkout status view
func (s *Server) getCheckout(c *gin.Context) {
	checkoutID := c.Param("id")
	ctx := c.Request.Context()

	var view models.CheckoutView
	cacheKey := cache.GetCheckoutCacheKey(checkoutID)

	if hit, err := s.views.Get(ctx, cacheKey, &view); err != nil {
		log.Warn().Err(err).Str("checkoutID", checkoutID).Msg("Checkout cache read failed")
	} else if hit {
		c.JSON(http.StatusOK, view)
		return
	}

	if err := s.db.WithContext(ctx).Where("checkout_id = ?", checkoutID).First(&view).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "checkout not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.views.Set(ctx, cacheKey, view, viewCacheTTL); err != nil {
		log.Warn().Err(err).Str("checkoutID", checkoutID).Msg("Checkout cache write failed")
	}

	c.JSON(http.StatusOK, view)
}

// getOrder returns the order view
func (s *Server) getOrder(c *gin.Context) {
	orderID := c.Param("id")
	ctx := c.Request.Context()

	var view models.OrderView
	cacheKey := cache.GetOrderCacheKey(orderID)

	if hit, err := s.views.Get(ctx, cacheKey, &view); err != nil {
		log.Warn().Err(err).Str("orderID", orderID).Msg("Order cache read failed")
	} else if hit {
		c.JSON(http.StatusOK, view)
		return
	}

	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&view).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.views.Set(ctx, cacheKey, view, viewCacheTTL); err != nil {
		log.Warn().Err(err).Str("orderID", orderID).Msg("Order cache write failed")
	}

	c.JSON(http.StatusOK, view)
}
