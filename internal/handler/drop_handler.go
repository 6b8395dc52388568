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

type dropService interface {
	Create(ctx context.Context, req service.CreateDropRequest) (*models.DropRequest, error)
	Approve(ctx context.Context, id string, reviewer models.Reviewer, note string) (*models.DropRequest, error)
	Reject(ctx context.Context, id string, reviewer models.Reviewer, reason string) (*models.DropRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.DropRequest, error)
}

// FileDropRequest is the payload a student sends to leave a section.
type FileDropRequest struct {
	EnrollmentID string `json:"enrollment_id" binding:"required"`
	Reason       string `json:"reason" binding:"required"`
}

// DropHandler exposes the drop approval workflow.
type DropHandler struct {
	service dropService
}

// NewDropHandler constructs DropHandler.
func NewDropHandler(service dropService) *DropHandler {
	return &DropHandler{service: service}
}

// List godoc
// @Summary List drop requests
// @Tags Drops
// @Produce json
// @Param student_id query string false "Student"
// @Param section_id query string false "Section"
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Router /drops [get]
func (h *DropHandler) List(c *gin.Context) {
	filter, err := requestFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	requests, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, requests, filter.Limit, filter.Offset, len(requests))
}

// Create godoc
// @Summary Ask to drop an enrollment
// @Tags Drops
// @Accept json
// @Produce json
// @Param payload body FileDropRequest true "Drop payload"
// @Success 201 {object} response.Envelope
// @Router /drops [post]
func (h *DropHandler) Create(c *gin.Context) {
	studentID, err := studentFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req FileDropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), service.CreateDropRequest{
		StudentID:    studentID,
		EnrollmentID: req.EnrollmentID,
		Reason:       req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Approve godoc
// @Summary Approve a drop request
// @Tags Drops
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body ReviewPayload false "Optional note"
// @Success 200 {object} response.Envelope
// @Router /drops/{id}/approve [post]
func (h *DropHandler) Approve(c *gin.Context) {
	reviewer, err := reviewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, err := bindOptionalReview(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	request, err := h.service.Approve(c.Request.Context(), c.Param("id"), reviewer, payload.Note)
	if err != nil {
		if request != nil {
			response.ErrorWithData(c, err, request)
			return
		}
		response.Error(c, err)
		return
	}
	response.OK(c, request)
}

// Reject godoc
// @Summary Reject a drop request
// @Tags Drops
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body ReviewPayload true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /drops/{id}/reject [post]
func (h *DropHandler) Reject(c *gin.Context) {
	reviewer, err := reviewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, err := bindOptionalReview(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	request, err := h.service.Reject(c.Request.Context(), c.Param("id"), reviewer, payload.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, request)
}
