package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/handler"
	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
	"github.com/noah-isme/krs-api/internal/service"
)

const secret = "router-test-secret"

type testAPI struct {
	engine *gin.Engine
	store  *repository.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	for _, id := range []string{"stu-a", "stu-b"} {
		store.AddStudent(models.Student{ID: id, Semester: 3, Programme: "CS", Active: true})
	}
	store.AddSubject(models.Subject{ID: "sub-cs101", Code: "CS101", Semester: 1, Programme: "CS"})
	store.AddSection(models.Section{ID: "sec-1", SubjectID: "sub-cs101", Number: 1, Capacity: 1, Active: true},
		models.ScheduleEntry{DayOfWeek: models.Monday, StartTime: models.Clock(8, 0), EndTime: models.Clock(10, 0)})
	store.AddInstructor("sec-1", "lect-1")

	metrics := service.NewMetricsService()
	registration := service.NewRegistrationService(store, nil, nil, metrics, nil, nil)
	h := Handlers{
		Registration: handler.NewRegistrationHandler(registration),
		Swap:         handler.NewSwapHandler(service.NewSwapService(store, nil, nil, metrics, true, nil, nil)),
		ManualJoin:   handler.NewManualJoinHandler(service.NewManualJoinService(store, registration, nil, nil, metrics, 10, nil, nil)),
		Drop:         handler.NewDropHandler(service.NewDropService(store, registration, nil, nil, metrics, 10, nil, nil)),
		Metrics:      handler.NewMetricsHandler(metrics, nil),
	}
	auth := service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: secret})
	engine := Setup(Options{EnableMetrics: true}, h, auth, metrics, nil)
	return &testAPI{engine: engine, store: store}
}

func token(t *testing.T, claims models.JWTClaims) string {
	t.Helper()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (api *testAPI) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

func TestRouterRegistrationFlow(t *testing.T) {
	api := newTestAPI(t)
	studentA := token(t, models.JWTClaims{UserID: "user-a", Role: models.RoleStudent, StudentID: "stu-a"})
	studentB := token(t, models.JWTClaims{UserID: "user-b", Role: models.RoleStudent, StudentID: "stu-b"})

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/v1/students/stu-a/enrollments", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, "/api/v1/students/stu-a/enrollments", studentB, map[string]string{"section_id": "sec-1"}).Code)

	w := api.do(t, http.MethodPost, "/api/v1/students/stu-a/enrollments", studentA, map[string]string{"section_id": "sec-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var enrollment models.EnrollmentDetail
	dataOf(t, w, &enrollment)

	w = api.do(t, http.MethodPost, "/api/v1/students/stu-b/enrollments", studentB, map[string]string{"section_id": "sec-1"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "CAPACITY_EXCEEDED")

	w = api.do(t, http.MethodGet, "/api/v1/sections/sec-1/availability", studentB, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var availability models.SectionAvailability
	dataOf(t, w, &availability)
	assert.Equal(t, 0, availability.SeatsLeft)

	w = api.do(t, http.MethodDelete, "/api/v1/students/stu-a/enrollments/"+enrollment.ID, studentA, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	section, _ := api.store.Section("sec-1")
	assert.Equal(t, 0, section.EnrolledCount)

	w = api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `registration_operations_total{operation="register",outcome="CAPACITY_EXCEEDED"} 1`)
}

func TestRouterManualJoinApprovalByLecturer(t *testing.T) {
	api := newTestAPI(t)
	api.store.AddEnrollment(models.Enrollment{StudentID: "stu-b", SectionID: "sec-1"})
	studentA := token(t, models.JWTClaims{UserID: "user-a", Role: models.RoleStudent, StudentID: "stu-a"})
	lecturer := token(t, models.JWTClaims{UserID: "lect-1", Role: models.RoleLecturer})

	w := api.do(t, http.MethodPost, "/api/v1/manual-joins", studentA, map[string]string{"section_id": "sec-1", "reason": "required for my thesis"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var request models.ManualJoinRequest
	dataOf(t, w, &request)

	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, "/api/v1/manual-joins/"+request.ID+"/approve", studentA, nil).Code)

	w = api.do(t, http.MethodGet, "/api/v1/manual-joins?status=PENDING", lecturer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []models.ManualJoinRequest
	dataOf(t, w, &pending)
	require.Len(t, pending, 1)

	w = api.do(t, http.MethodPost, "/api/v1/manual-joins/"+request.ID+"/approve", lecturer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	dataOf(t, w, &request)
	assert.Equal(t, models.RequestStatusApproved, request.Status)

	section, _ := api.store.Section("sec-1")
	assert.Equal(t, 2, section.EnrolledCount)

	w = api.do(t, http.MethodGet, "/api/v1/students/stu-a/schedule", lecturer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var timetable models.Timetable
	dataOf(t, w, &timetable)
	require.Len(t, timetable.Enrollments, 1)
	assert.Equal(t, models.EnrollmentTypeManual, timetable.Enrollments[0].Type)
}

func TestRouterProbes(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/docs/index.html", "", nil).Code)
}
