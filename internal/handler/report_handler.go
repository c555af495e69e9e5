package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/internal/service"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
	"github.com/school-vax/portal-api/pkg/response"
)

type reportService interface {
	DashboardStats(ctx context.Context) (*models.DashboardStats, error)
	VaccinationReport(ctx context.Context, filter models.VaccinationReportFilter) ([]models.VaccinationReportRow, error)
	VaccinationReportCSV(ctx context.Context, filter models.VaccinationReportFilter) ([]byte, error)
	CreateExportJob(ctx context.Context, req service.ExportRequest, actorID string) (*service.ExportJobResponse, error)
	GetExportStatus(ctx context.Context, id string) (*service.ExportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error)
}

// ReportHandler exposes dashboard and reporting endpoints.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// DashboardStats godoc
// @Summary Dashboard headline numbers
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/dashboard_stats [get]
func (h *ReportHandler) DashboardStats(c *gin.Context) {
	stats, err := h.reports.DashboardStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// VaccinationReport godoc
// @Summary Vaccination report, JSON or inline CSV
// @Tags Reports
// @Produce json
// @Param vaccine_id query string false "Filter by vaccine"
// @Param grade query int false "Filter by grade"
// @Param start_date query string false "Administered on or after (YYYY-MM-DD)"
// @Param end_date query string false "Administered on or before (YYYY-MM-DD)"
// @Param format query string false "Set to csv for an inline download"
// @Success 200 {object} response.Envelope
// @Router /reports/vaccination_report [get]
func (h *ReportHandler) VaccinationReport(c *gin.Context) {
	filter, err := parseReportFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if c.Query("format") == "csv" {
		payload, err := h.reports.VaccinationReportCSV(c.Request.Context(), filter)
		if err != nil {
			response.Error(c, err)
			return
		}
		writeCSV(c, "vaccination_report.csv", payload)
		return
	}

	rows, err := h.reports.VaccinationReport(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// CreateExport godoc
// @Summary Queue an async report export (CSV or PDF)
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body service.ExportRequest true "Export options"
// @Success 202 {object} response.Envelope
// @Router /reports/export [post]
func (h *ReportHandler) CreateExport(c *gin.Context) {
	var req service.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actorID := ""
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	job, err := h.reports.CreateExportJob(c.Request.Context(), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// ExportStatus godoc
// @Summary Poll an export job
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /reports/export/{id} [get]
func (h *ReportHandler) ExportStatus(c *gin.Context) {
	status, err := h.reports.GetExportStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Download godoc
// @Summary Download a finished export via signed token
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Router /reports/download/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	result, err := h.reports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck

	size := int64(-1)
	if info, err := result.File.Stat(); err == nil {
		size = info.Size()
	}
	mime := "text/csv"
	if result.Format == models.ExportFormatPDF {
		mime = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, size, mime, result.File, nil)
}

func parseReportFilter(c *gin.Context) (models.VaccinationReportFilter, error) {
	var filter models.VaccinationReportFilter
	filter.VaccineID = c.Query("vaccine_id")
	if grade := c.Query("grade"); grade != "" {
		v, err := strconv.Atoi(grade)
		if err != nil || v <= 0 {
			return filter, appErrors.Clone(appErrors.ErrValidation, "grade must be a positive integer")
		}
		filter.Grade = &v
	}
	for _, bound := range []struct {
		raw  string
		dest **time.Time
	}{
		{c.Query("start_date"), &filter.StartDate},
		{c.Query("end_date"), &filter.EndDate},
	} {
		if bound.raw == "" {
			continue
		}
		parsed, err := time.Parse("2006-01-02", bound.raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "dates must use the YYYY-MM-DD format")
		}
		*bound.dest = &parsed
	}
	return filter, nil
}
