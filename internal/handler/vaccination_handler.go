package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/internal/service"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
	"github.com/school-vax/portal-api/pkg/response"
)

// CheckEligibilityRequest names a drive and candidate students.
type CheckEligibilityRequest struct {
	DriveID    string   `json:"drive_id" binding:"required"`
	StudentIDs []string `json:"student_ids" binding:"required"`
}

// VaccinationHandler exposes vaccination record endpoints.
type VaccinationHandler struct {
	vaccinations *service.VaccinationService
}

// NewVaccinationHandler constructs VaccinationHandler.
func NewVaccinationHandler(vaccinations *service.VaccinationService) *VaccinationHandler {
	return &VaccinationHandler{vaccinations: vaccinations}
}

// List godoc
// @Summary List vaccination records
// @Tags Vaccinations
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param vaccine_id query string false "Filter by vaccine"
// @Param drive_id query string false "Filter by drive"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /vaccinations [get]
func (h *VaccinationHandler) List(c *gin.Context) {
	var filter models.VaccinationFilter
	filter.StudentID = c.Query("student_id")
	filter.VaccineID = c.Query("vaccine_id")
	filter.DriveID = c.Query("drive_id")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	records, pagination, err := h.vaccinations.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Get godoc
// @Summary Get vaccination record
// @Tags Vaccinations
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /vaccinations/{id} [get]
func (h *VaccinationHandler) Get(c *gin.Context) {
	record, err := h.vaccinations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Create godoc
// @Summary Record a single vaccination
// @Tags Vaccinations
// @Accept json
// @Produce json
// @Param payload body service.CreateVaccinationRequest true "Vaccination payload"
// @Success 201 {object} response.Envelope
// @Router /vaccinations [post]
func (h *VaccinationHandler) Create(c *gin.Context) {
	var req service.CreateVaccinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.vaccinations.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Update godoc
// @Summary Update a vaccination record
// @Tags Vaccinations
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body service.UpdateVaccinationRequest true "Vaccination payload"
// @Success 200 {object} response.Envelope
// @Router /vaccinations/{id} [put]
func (h *VaccinationHandler) Update(c *gin.Context) {
	var req service.UpdateVaccinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.vaccinations.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Delete godoc
// @Summary Delete vaccination record
// @Tags Vaccinations
// @Produce json
// @Param id path string true "Record ID"
// @Success 204
// @Router /vaccinations/{id} [delete]
func (h *VaccinationHandler) Delete(c *gin.Context) {
	if err := h.vaccinations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CheckEligibility godoc
// @Summary Preview eligibility for a batch without writing records
// @Tags Vaccinations
// @Accept json
// @Produce json
// @Param payload body CheckEligibilityRequest true "Drive and student IDs"
// @Success 200 {object} response.Envelope
// @Router /vaccinations/check_eligibility [post]
func (h *VaccinationHandler) CheckEligibility(c *gin.Context) {
	var req CheckEligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	report, err := h.vaccinations.CheckEligibilityReport(c.Request.Context(), req.DriveID, req.StudentIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
