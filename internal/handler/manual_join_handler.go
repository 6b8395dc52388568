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

type manualJoinService interface {
	Create(ctx context.Context, req service.CreateManualJoinRequest) (*models.ManualJoinRequest, error)
	Approve(ctx context.Context, id string, reviewer models.Reviewer, note string) (*models.ManualJoinRequest, error)
	Reject(ctx context.Context, id string, reviewer models.Reviewer, reason string) (*models.ManualJoinRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.ManualJoinRequest, error)
}

// FileManualJoinRequest is the payload a student sends to ask for a seat in a full section.
type FileManualJoinRequest struct {
	SectionID string `json:"section_id" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// ReviewPayload carries an approval note or a rejection reason.
type ReviewPayload struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

// ManualJoinHandler exposes the manual join approval workflow.
type ManualJoinHandler struct {
	service manualJoinService
}

// NewManualJoinHandler constructs ManualJoinHandler.
func NewManualJoinHandler(service manualJoinService) *ManualJoinHandler {
	return &ManualJoinHandler{service: service}
}

// List godoc
// @Summary List manual join requests
// @Tags ManualJoins
// @Produce json
// @Param student_id query string false "Student"
// @Param section_id query string false "Section"
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Router /manual-joins [get]
func (h *ManualJoinHandler) List(c *gin.Context) {
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
// @Summary Ask to join a section past capacity
// @Tags ManualJoins
// @Accept json
// @Produce json
// @Param payload body FileManualJoinRequest true "Manual join payload"
// @Success 201 {object} response.Envelope
// @Router /manual-joins [post]
func (h *ManualJoinHandler) Create(c *gin.Context) {
	studentID, err := studentFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req FileManualJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), service.CreateManualJoinRequest{
		StudentID: studentID,
		SectionID: req.SectionID,
		Reason:    req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Approve godoc
// @Summary Approve a manual join request
// @Tags ManualJoins
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body ReviewPayload false "Optional note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Registration failed; the request was rejected"
// @Router /manual-joins/{id}/approve [post]
func (h *ManualJoinHandler) Approve(c *gin.Context) {
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
// @Summary Reject a manual join request
// @Tags ManualJoins
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body ReviewPayload true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /manual-joins/{id}/reject [post]
func (h *ManualJoinHandler) Reject(c *gin.Context) {
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

func bindOptionalReview(c *gin.Context) (ReviewPayload, error) {
	var payload ReviewPayload
	if c.Request.ContentLength == 0 {
		return payload, nil
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		return payload, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
	}
	return payload, nil
}
