// Package http 保证金报价接口
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/application"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/domain"
)

type Handler struct {
	service *application.MarginService
}

func NewHandler(service *application.MarginService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/margin")
	{
		g.POST("/required-collateral", h.RequiredCollateral)
		g.POST("/account", h.AccountMargin)
		g.GET("/params", h.Params)
	}
}

type TermsReq struct {
	OptionType   string `json:"option_type" binding:"required"`
	Strike       string `json:"strike" binding:"required"`
	ContractSize string `json:"contract_size" binding:"required"`
	// RFC3339 到期时间
	Expiry time.Time `json:"expiry" binding:"required"`
}

func (t TermsReq) toDomain() (domain.ContractTerms, error) {
	strike, err := decimal.NewFromString(t.Strike)
	if err != nil {
		return domain.ContractTerms{}, errors.New("invalid strike")
	}
	size, err := decimal.NewFromString(t.ContractSize)
	if err != nil {
		return domain.ContractTerms{}, errors.New("invalid contract size")
	}
	return domain.ContractTerms{
		OptionType:   domain.OptionType(t.OptionType),
		Strike:       strike,
		ContractSize: size,
		Expiry:       t.Expiry,
	}, nil
}

type RequiredCollateralReq struct {
	Terms          TermsReq `json:"terms" binding:"required"`
	Side           string   `json:"side" binding:"required"`
	Quantity       string   `json:"quantity" binding:"required"`
	ReferencePrice string   `json:"reference_price" binding:"required"`
}

func (h *Handler) RequiredCollateral(c *gin.Context) {
	var req RequiredCollateralReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	terms, err := req.Terms.toDomain()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}
	refPrice, err := decimal.NewFromString(req.ReferencePrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reference price"})
		return
	}

	required := h.service.RequiredCollateral(c.Request.Context(), terms, domain.PositionSide(req.Side), qty, refPrice)
	c.JSON(http.StatusOK, gin.H{"required_collateral": required})
}

type ExposureReq struct {
	Terms      TermsReq `json:"terms" binding:"required"`
	Quantity   string   `json:"quantity" binding:"required"`
	EntryPrice string   `json:"entry_price" binding:"required"`
}

type AccountMarginReq struct {
	Posted    string        `json:"posted_collateral" binding:"required"`
	Exposures []ExposureReq `json:"exposures" binding:"required"`
}

func (h *Handler) AccountMargin(c *gin.Context) {
	var req AccountMarginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	posted, err := decimal.NewFromString(req.Posted)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid posted collateral"})
		return
	}

	exposures := make([]domain.ShortExposure, 0, len(req.Exposures))
	for _, e := range req.Exposures {
		terms, err := e.Terms.toDomain()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		qty, err := decimal.NewFromString(e.Quantity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
			return
		}
		entry, err := decimal.NewFromString(e.EntryPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry price"})
			return
		}
		exposures = append(exposures, domain.ShortExposure{Terms: terms, Quantity: qty, EntryPrice: entry})
	}

	requirements := h.service.ComputeAccountMargin(exposures)
	sufficient := h.service.RequireSufficientMargin(posted, exposures) == nil
	c.JSON(http.StatusOK, gin.H{
		"initial_requirement":     requirements.InitialRequirement,
		"maintenance_requirement": requirements.MaintenanceRequirement,
		"sufficient":              sufficient,
	})
}

func (h *Handler) Params(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Params())
}
