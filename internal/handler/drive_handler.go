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

// MarkStudentsRequest names the students to vaccinate in a drive.
type MarkStudentsRequest struct {
	StudentIDs []string `json:"student_ids" binding:"required"`
}

// DriveHandler exposes vaccination drive endpoints.
type DriveHandler struct {
	drives       *service.DriveService
	vaccinations *service.VaccinationService
}

// NewDriveHandler constructs DriveHandler.
func NewDriveHandler(drives *service.DriveService, vaccinations *service.VaccinationService) *DriveHandler {
	return &DriveHandler{drives: drives, vaccinations: vaccinations}
}

// List godoc
// @Summary List vaccination drives
// @Tags Drives
// @Produce json
// @Param vaccine_id query string false "Filter by vaccine"
// @Param upcoming query bool false "Only drives dated today or later"
// @Param next_month query bool false "Only drives within the next 30 days"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /drives [get]
func (h *DriveHandler) List(c *gin.Context) {
	var filter models.DriveFilter
	filter.VaccineID = c.Query("vaccine_id")
	filter.Upcoming = c.Query("upcoming") == "true"
	filter.NextMonth = c.Query("next_month") == "true"
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	drives, pagination, err := h.drives.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drives, pagination)
}

// Get godoc
// @Summary Get drive detail
// @Tags Drives
// @Produce json
// @Param id path string true "Drive ID"
// @Success 200 {object} response.Envelope
// @Router /drives/{id} [get]
func (h *DriveHandler) Get(c *gin.Context) {
	drive, err := h.drives.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drive, nil)
}

// Create godoc
// @Summary Schedule a vaccination drive
// @Tags Drives
// @Accept json
// @Produce json
// @Param payload body service.CreateDriveRequest true "Drive payload"
// @Success 201 {object} response.Envelope
// @Router /drives [post]
func (h *DriveHandler) Create(c *gin.Context) {
	var req service.CreateDriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	drive, err := h.drives.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, drive)
}

// Update godoc
// @Summary Update a scheduled drive
// @Tags Drives
// @Accept json
// @Produce json
// @Param id path string true "Drive ID"
// @Param payload body service.UpdateDriveRequest true "Drive payload"
// @Success 200 {object} response.Envelope
// @Router /drives/{id} [put]
func (h *DriveHandler) Update(c *gin.Context) {
	var req service.UpdateDriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	drive, err := h.drives.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drive, nil)
}

// Delete godoc
// @Summary Delete drive
// @Tags Drives
// @Produce json
// @Param id path string true "Drive ID"
// @Success 204
// @Router /drives/{id} [delete]
func (h *DriveHandler) Delete(c *gin.Context) {
	if err := h.drives.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkStudents godoc
// @Summary Record vaccinations for a batch of students in a drive
// @Tags Drives
// @Accept json
// @Produce json
// @Param id path string true "Drive ID"
// @Param payload body MarkStudentsRequest true "Student IDs, processed in order"
// @Success 200 {object} response.Envelope
// @Router /drives/{id}/mark_students [post]
func (h *DriveHandler) MarkStudents(c *gin.Context) {
	var req MarkStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.vaccinations.MarkStudents(c.Request.Context(), c.Param("id"), req.StudentIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
