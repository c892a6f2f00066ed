// Package http 订单簿服务接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/orderbook/application"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/orderbook/domain"
)

type Handler struct {
	service *application.OrderBookService
}

func NewHandler(service *application.OrderBookService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/orderbook")
	{
		g.POST("/orders", h.PlaceOrder)
		g.DELETE("/orders/:id", h.CancelOrder)
		g.POST("/orders/:id/match", h.MatchOrders)
		g.GET("/series/:id/state", h.GetState)
		g.GET("/series/:id/depth", h.GetDepth)
		g.GET("/users/:user/orders", h.GetUserOrders)
		g.GET("/stats", h.Stats)
	}
}

type PlaceOrderReq struct {
	SeriesID uint64 `json:"series_id" binding:"required"`
	Maker    string `json:"maker" binding:"required"`
	Side     string `json:"side" binding:"required"`
	Price    string `json:"price" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
}

func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}

	orderID, err := h.service.PlaceOrder(c.Request.Context(), req.SeriesID, req.Maker, domain.Side(req.Side), price, qty)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID})
}

type CancelOrderReq struct {
	Maker string `json:"maker" binding:"required"`
}

func (h *Handler) CancelOrder(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	var req CancelOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.CancelOrder(c.Request.Context(), orderID, req.Maker); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": orderID})
}

func (h *Handler) MatchOrders(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	fills, err := h.service.MatchOrders(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (h *Handler) GetState(c *gin.Context) {
	seriesID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}

	state, err := h.service.GetState(seriesID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) GetDepth(c *gin.Context) {
	seriesID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}
	levels, err := strconv.Atoi(c.DefaultQuery("levels", "10"))
	if err != nil || levels <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid levels"})
		return
	}

	bids, asks, err := h.service.GetDepth(c.Request.Context(), seriesID, levels)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"series_id": seriesID, "bids": bids, "asks": asks})
}

func (h *Handler) GetUserOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": h.service.GetUserActiveOrders(c.Param("user"))})
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Stats())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrBookNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidPrice), errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidSide), errors.Is(err, domain.ErrOpenOrderCapHit):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBookExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
