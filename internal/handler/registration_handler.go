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

type registrationService interface {
	Register(ctx context.Context, req service.RegisterRequest) (*models.EnrollmentDetail, error)
	Unregister(ctx context.Context, studentID, enrollmentID string) error
	ListEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	StudentTimetable(ctx context.Context, studentID string) (*models.Timetable, error)
	SectionAvailability(ctx context.Context, sectionID string) (*models.SectionAvailability, error)
}

// RegisterSectionRequest is the payload for registering into a section.
type RegisterSectionRequest struct {
	SectionID string `json:"section_id" binding:"required"`
}

// RegistrationHandler exposes enrollment endpoints scoped to a student.
type RegistrationHandler struct {
	service registrationService
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(service registrationService) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

// List godoc
// @Summary List a student's enrollments
// @Tags Registrations
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments [get]
func (h *RegistrationHandler) List(c *gin.Context) {
	enrollments, err := h.service.ListEnrollments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollments)
}

// Register godoc
// @Summary Register a student into a section
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body RegisterSectionRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id}/enrollments [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req RegisterSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.service.Register(c.Request.Context(), service.RegisterRequest{
		StudentID: c.Param("id"),
		SectionID: req.SectionID,
		Type:      models.EnrollmentTypeNormal,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Unregister godoc
// @Summary Remove a student's enrollment
// @Tags Registrations
// @Produce json
// @Param id path string true "Student ID"
// @Param enrollmentId path string true "Enrollment ID"
// @Success 204
// @Router /students/{id}/enrollments/{enrollmentId} [delete]
func (h *RegistrationHandler) Unregister(c *gin.Context) {
	if err := h.service.Unregister(c.Request.Context(), c.Param("id"), c.Param("enrollmentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Timetable godoc
// @Summary Get a student's weekly timetable
// @Tags Registrations
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/schedule [get]
func (h *RegistrationHandler) Timetable(c *gin.Context) {
	timetable, err := h.service.StudentTimetable(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, timetable)
}

// Availability godoc
// @Summary Get seats left and meetings of a section
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/availability [get]
func (h *RegistrationHandler) Availability(c *gin.Context) {
	availability, err := h.service.SectionAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, availability)
}
