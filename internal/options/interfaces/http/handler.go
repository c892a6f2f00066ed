// Package http 期权核心服务接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	margindomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/domain"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/application"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
)

type Handler struct {
	service *application.OptionsService
}

func NewHandler(service *application.OptionsService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/options")
	{
		g.POST("/series", h.CreateSeries)
		g.GET("/series/:id", h.GetSeries)
		g.POST("/series/:id/buy", h.Buy)
		g.POST("/series/:id/write", h.Write)
		g.POST("/series/:id/exercise", h.Exercise)
		g.POST("/series/:id/settle", h.Settle)
		g.GET("/users/:user/positions", h.GetUserPositions)
		g.POST("/users/:user/margin-check", h.CheckMargin)
		g.GET("/stats", h.Stats)
	}
}

type CreateSeriesReq struct {
	Caller          string `json:"caller" binding:"required"`
	Underlying      string `json:"underlying" binding:"required"`
	Strike          string `json:"strike" binding:"required"`
	ExpiryDays      int64  `json:"expiry_days" binding:"required"`
	OptionType      string `json:"option_type" binding:"required"`
	ContractSize    string `json:"contract_size" binding:"required"`
	SettlementStyle string `json:"settlement_style" binding:"required"`
}

func (h *Handler) CreateSeries(c *gin.Context) {
	var req CreateSeriesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strike, err := decimal.NewFromString(req.Strike)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strike"})
		return
	}
	size, err := decimal.NewFromString(req.ContractSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract size"})
		return
	}

	series, err := h.service.CreateSeries(c.Request.Context(), req.Caller, domain.SeriesSpec{
		Underlying:      req.Underlying,
		Strike:          strike,
		ExpiryDays:      req.ExpiryDays,
		OptionType:      domain.OptionType(req.OptionType),
		ContractSize:    size,
		SettlementStyle: domain.SettlementStyle(req.SettlementStyle),
	})
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, series)
}

func (h *Handler) GetSeries(c *gin.Context) {
	seriesID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}

	series, err := h.service.GetSeries(seriesID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, series)
}

type BuyReq struct {
	Buyer    string `json:"buyer" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
	Premium  string `json:"premium" binding:"required"`
}

func (h *Handler) Buy(c *gin.Context) {
	seriesID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}
	var req BuyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}
	premium, err := decimal.NewFromString(req.Premium)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid premium"})
		return
	}

	pos, err := h.service.Buy(c.Request.Context(), seriesID, req.Buyer, qty, premium)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pos)
}

type WriteReq struct {
	Writer   string `json:"writer" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
}

func (h *Handler) Write(c *gin.Context) {
	seriesID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}
	var req WriteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}

	pos, err := h.service.Write(c.Request.Context(), seriesID, req.Writer, qty)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pos)
}

type ExerciseReq struct {
	Holder   string `json:"holder" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
}

func (h *Handler) Exercise(c *gin.Context) {
	seriesID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}
	var req ExerciseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}

	payout, err := h.service.Exercise(c.Request.Context(), seriesID, req.Holder, qty)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": payout})
}

type SettleReq struct {
	Caller string `json:"caller" binding:"required"`
}

func (h *Handler) Settle(c *gin.Context) {
	seriesID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}
	var req SettleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.service.SettleExpiredSeries(c.Request.Context(), req.Caller, seriesID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *Handler) GetUserPositions(c *gin.Context) {
	longs, shorts := h.service.GetUserPositions(c.Param("user"))
	c.JSON(http.StatusOK, gin.H{"longs": longs, "shorts": shorts})
}

func (h *Handler) CheckMargin(c *gin.Context) {
	if err := h.service.CheckAccountMargin(c.Request.Context(), c.Param("user")); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sufficient": true})
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Stats())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrSeriesNotFound), errors.Is(err, domain.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrComplianceRejected):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSeriesExpired), errors.Is(err, domain.ErrSeriesNotActive),
		errors.Is(err, domain.ErrNotExpired), errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrWrongSettlementStyle):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientCollateral), errors.Is(err, domain.ErrInsufficientPosition),
		errors.Is(err, margindomain.ErrInsufficientMargin):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrOracleUnavailable), errors.Is(err, domain.ErrStalePrice):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
