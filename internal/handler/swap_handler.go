package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/service"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/response"
)

type swapService interface {
	CreateSwapRequest(ctx context.Context, req service.CreateSwapRequest) (*models.SwapRequest, error)
	RespondToSwapRequest(ctx context.Context, id, respondentID string, req service.RespondSwapRequest) (*models.SwapRequest, error)
	CancelSwapRequest(ctx context.Context, id, requesterID string) (*models.SwapRequest, error)
	ListSwapRequests(ctx context.Context, filter models.RequestFilter) ([]models.SwapRequest, error)
}

// ProposeSwapRequest is the payload a requester sends to propose a swap.
type ProposeSwapRequest struct {
	RequesterSectionID string `json:"requester_section_id" binding:"required"`
	TargetID           string `json:"target_id" binding:"required"`
	TargetSectionID    string `json:"target_section_id" binding:"required"`
}

// SwapHandler exposes section swap endpoints.
type SwapHandler struct {
	service swapService
}

// NewSwapHandler constructs SwapHandler.
func NewSwapHandler(service swapService) *SwapHandler {
	return &SwapHandler{service: service}
}

// List godoc
// @Summary List swap requests
// @Tags Swaps
// @Produce json
// @Param student_id query string false "Either party"
// @Param section_id query string false "Either section"
// @Param status query string false "Comma separated statuses"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /swaps [get]
func (h *SwapHandler) List(c *gin.Context) {
	filter, err := requestFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	swaps, err := h.service.ListSwapRequests(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, swaps, filter.Limit, filter.Offset, len(swaps))
}

// Create godoc
// @Summary Propose a section swap
// @Tags Swaps
// @Accept json
// @Produce json
// @Param payload body ProposeSwapRequest true "Swap payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /swaps [post]
func (h *SwapHandler) Create(c *gin.Context) {
	requesterID, err := studentFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req ProposeSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	swap, err := h.service.CreateSwapRequest(c.Request.Context(), service.CreateSwapRequest{
		RequesterID:        requesterID,
		RequesterSectionID: req.RequesterSectionID,
		TargetID:           req.TargetID,
		TargetSectionID:    req.TargetSectionID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, swap)
}

// Respond godoc
// @Summary Accept or reject a swap as its target
// @Tags Swaps
// @Accept json
// @Produce json
// @Param id path string true "Swap request ID"
// @Param payload body service.RespondSwapRequest true "Response payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Accept failed; the request was rejected"
// @Router /swaps/{id}/respond [post]
func (h *SwapHandler) Respond(c *gin.Context) {
	respondentID, err := studentFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.RespondSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	swap, err := h.service.RespondToSwapRequest(c.Request.Context(), c.Param("id"), respondentID, req)
	if err != nil {
		if swap != nil {
			response.ErrorWithData(c, err, swap)
			return
		}
		response.Error(c, err)
		return
	}
	response.OK(c, swap)
}

// Cancel godoc
// @Summary Withdraw a pending swap as its requester
// @Tags Swaps
// @Produce json
// @Param id path string true "Swap request ID"
// @Success 200 {object} response.Envelope
// @Router /swaps/{id}/cancel [post]
func (h *SwapHandler) Cancel(c *gin.Context) {
	requesterID, err := studentFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	swap, err := h.service.CancelSwapRequest(c.Request.Context(), c.Param("id"), requesterID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, swap)
}
