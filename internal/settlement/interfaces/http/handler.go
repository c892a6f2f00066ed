// Package http 结算查询接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	optionsdomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/settlement/application"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/settlement/domain"
)

type Handler struct {
	service *application.SettlementService
}

func NewHandler(service *application.SettlementService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/settlement")
	{
		g.GET("/series/:id/staged", h.Staged)
		g.GET("/series/:id/outcome", h.Outcome)
	}
}

func (h *Handler) Staged(c *gin.Context) {
	seriesID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}

	staged, err := h.service.PrepareSettlement(seriesID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, staged)
}

func (h *Handler) Outcome(c *gin.Context) {
	seriesID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid series id"})
		return
	}

	outcome, err := h.service.GetOutcome(seriesID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, optionsdomain.ErrSeriesNotFound), errors.Is(err, domain.ErrOutcomeNotFound):
		return http.StatusNotFound
	case errors.Is(err, optionsdomain.ErrNotExpired), errors.Is(err, optionsdomain.ErrAlreadySettled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
