package handlers

import (
	"net/http"

	"github.com/Dhoini/Billing-reconciliation/internal/service"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CancelRequest тело запроса отмены членства
type CancelRequest struct {
	Reason string `json:"reason"`
}

// SwapRequest тело запроса смены тарифа
type SwapRequest struct {
	Cart      CartRequest `json:"cart" binding:"required"`
	Immediate bool        `json:"immediate"`
}

// MembershipHandler обработчик операций над членствами
type MembershipHandler struct {
	membershipService service.MembershipService
	log               *logger.Logger
}

// NewMembershipHandler создает новый обработчик членств
func NewMembershipHandler(membershipService service.MembershipService, log *logger.Logger) *MembershipHandler {
	return &MembershipHandler{membershipService: membershipService, log: log}
}

// GetMembership возвращает членство по ID
func (h *MembershipHandler) GetMembership(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid membership id"})
		return
	}

	membership, err := h.membershipService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, membership)
}

// CancelMembership отменяет членство
func (h *MembershipHandler) CancelMembership(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid membership id"})
		return
	}

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	membership, err := h.membershipService.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, membership)
}

// SwapMembership меняет тарифный план членства.
// Immediate выполняет апгрейд сразу; иначе смена откладывается
// до границы платежного периода.
func (h *MembershipHandler) SwapMembership(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid membership id"})
		return
	}

	var req SwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cart := req.Cart.ToDomain()

	var membership interface{}
	if req.Immediate {
		membership, err = h.membershipService.Swap(c.Request.Context(), id, cart)
	} else {
		membership, err = h.membershipService.ScheduleSwap(c.Request.Context(), id, cart)
	}
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, membership)
}
