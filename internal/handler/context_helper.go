package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/middleware"
	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		return nil
	}
	return claims
}

// studentFromContext returns the student the caller acts as. Only student
// accounts carry one.
func studentFromContext(c *gin.Context) (string, error) {
	claims := claimsFromContext(c)
	if claims == nil {
		return "", appErrors.ErrUnauthorized
	}
	if claims.Role != models.RoleStudent || claims.StudentID == "" {
		return "", appErrors.Clone(appErrors.ErrForbidden, "only students can perform this action")
	}
	return claims.StudentID, nil
}

func reviewerFromContext(c *gin.Context) (models.Reviewer, error) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.Reviewer{}, appErrors.ErrUnauthorized
	}
	return claims.Reviewer(), nil
}

// requestFilterFromQuery reads ?student_id, ?section_id, ?status (comma
// separated), ?limit and ?offset, then scopes it to what the caller may see.
func requestFilterFromQuery(c *gin.Context) (models.RequestFilter, error) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.RequestFilter{}, appErrors.ErrUnauthorized
	}

	filter := models.RequestFilter{
		StudentID: c.Query("student_id"),
		SectionID: c.Query("section_id"),
	}
	for _, raw := range strings.Split(c.Query("status"), ",") {
		raw = strings.ToUpper(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		status := models.RequestStatus(raw)
		switch status {
		case models.RequestStatusPending, models.RequestStatusApproved, models.RequestStatusRejected, models.RequestStatusCancelled:
			filter.Status = append(filter.Status, status)
		default:
			return filter, appErrors.Clone(appErrors.ErrValidation, "unknown status "+raw)
		}
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && offset > 0 {
		filter.Offset = offset
	}

	switch claims.Role {
	case models.RoleStudent:
		filter.StudentID = claims.StudentID
	case models.RoleLecturer:
		filter.InstructorID = claims.UserID
	}
	return filter, nil
}
