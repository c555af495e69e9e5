package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-vax/portal-api/internal/middleware"
	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/internal/service"
)

type reportServiceMock struct {
	stats       *models.DashboardStats
	rows        []models.VaccinationReportRow
	csvPayload  []byte
	createResp  *service.ExportJobResponse
	createErr   error
	statusResp  *service.ExportStatusResponse
	statusErr   error
	download    *service.ReportDownload
	downloadErr error
	lastFilter  models.VaccinationReportFilter
	lastActor   string
}

func (m *reportServiceMock) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	return m.stats, nil
}

func (m *reportServiceMock) VaccinationReport(ctx context.Context, filter models.VaccinationReportFilter) ([]models.VaccinationReportRow, error) {
	m.lastFilter = filter
	return m.rows, nil
}

func (m *reportServiceMock) VaccinationReportCSV(ctx context.Context, filter models.VaccinationReportFilter) ([]byte, error) {
	m.lastFilter = filter
	return m.csvPayload, nil
}

func (m *reportServiceMock) CreateExportJob(ctx context.Context, req service.ExportRequest, actorID string) (*service.ExportJobResponse, error) {
	m.lastActor = actorID
	return m.createResp, m.createErr
}

func (m *reportServiceMock) GetExportStatus(ctx context.Context, id string) (*service.ExportStatusResponse, error) {
	return m.statusResp, m.statusErr
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestReportHandlerDashboardStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{stats: &models.DashboardStats{TotalStudents: 12}}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/dashboard_stats", nil)
	handler.DashboardStats(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_students":12`)
}

func TestReportHandlerVaccinationReportCSV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{csvPayload: []byte("Student ID,Vaccine\n")}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/vaccination_report?format=csv&grade=5&start_date=2025-05-01", nil)
	handler.VaccinationReport(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "vaccination_report.csv")
	require.NotNil(t, mockSvc.lastFilter.Grade)
	assert.Equal(t, 5, *mockSvc.lastFilter.Grade)
	require.NotNil(t, mockSvc.lastFilter.StartDate)
}

func TestReportHandlerVaccinationReportRejectsBadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewReportHandler(&reportServiceMock{})

	c, w := newGinContext(http.MethodGet, "/reports/vaccination_report?start_date=01-05-2025", nil)
	handler.VaccinationReport(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportHandlerCreateExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		createResp: &service.ExportJobResponse{ID: "job-1", Status: models.ExportStatusQueued},
	}
	handler := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(service.ExportRequest{Format: "csv"})
	c, w := newGinContext(http.MethodPost, "/reports/export", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.CreateExport(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "admin-1", mockSvc.lastActor)
}

func TestReportHandlerExportStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		statusResp: &service.ExportStatusResponse{ID: "job-1", Status: models.ExportStatusFinished, Progress: 100},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/export/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	handler.ExportStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "FINISHED")
}

func TestReportHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp("", "report*.csv")
	require.NoError(t, err)
	defer os.Remove(file.Name())
	_, _ = file.WriteString("data")
	_, _ = file.Seek(0, 0)

	mockSvc := &reportServiceMock{
		download: &service.ReportDownload{
			File:      file,
			Filename:  "vaccination_report.csv",
			Format:    models.ExportFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/download/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data", w.Body.String())
}
