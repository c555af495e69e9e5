package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/internal/service"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
	"github.com/school-vax/portal-api/pkg/export"
	"github.com/school-vax/portal-api/pkg/response"
)

const maxImportSize = 5 << 20

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students *service.StudentService
	csv      *export.CSVExporter
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students *service.StudentService) *StudentHandler {
	return &StudentHandler{students: students, csv: export.NewCSVExporter()}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param name query string false "Search by name"
// @Param student_id query string false "Filter by roll number"
// @Param grade query int false "Filter by grade"
// @Param vaccination_status query string false "yes or no, requires vaccine_id"
// @Param vaccine_id query string false "Vaccine for the status filter"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var filter models.StudentFilter
	filter.Name = strings.TrimSpace(c.Query("name"))
	filter.StudentID = strings.TrimSpace(c.Query("student_id"))
	if grade := c.Query("grade"); grade != "" {
		if v, err := strconv.Atoi(grade); err == nil {
			filter.Grade = &v
		}
	}
	filter.VaccinationStatus = c.Query("vaccination_status")
	filter.VaccineID = c.Query("vaccine_id")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail with vaccination status
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.UpdateStudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var req service.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Delete student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.students.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkImport godoc
// @Summary Import students from a CSV file
// @Tags Students
// @Accept mpfd
// @Produce json
// @Param file formData file true "CSV file"
// @Success 200 {object} response.Envelope
// @Router /students/bulk_import [post]
func (h *StudentHandler) BulkImport(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "a CSV file upload named 'file' is required"))
		return
	}
	if fileHeader.Size > maxImportSize {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file exceeds the 5MB import limit"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open upload"))
		return
	}
	defer file.Close()

	result, err := h.students.BulkImport(c.Request.Context(), file)
	if err != nil {
		if result != nil {
			response.JSON(c, http.StatusBadRequest, result, nil)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Download all students as CSV
// @Tags Students
// @Produce text/csv
// @Param include_vaccination query bool false "Append vaccination columns"
// @Success 200 {string} string "CSV payload"
// @Router /students/export [get]
func (h *StudentHandler) Export(c *gin.Context) {
	include := c.Query("include_vaccination") == "true"
	dataset, err := h.students.Export(c.Request.Context(), include)
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, err := h.csv.Render(dataset)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export"))
		return
	}
	writeCSV(c, "students.csv", payload)
}

// Template godoc
// @Summary Download the bulk import CSV template
// @Tags Students
// @Produce text/csv
// @Success 200 {string} string "CSV payload"
// @Router /students/template [get]
func (h *StudentHandler) Template(c *gin.Context) {
	payload, err := h.csv.Render(h.students.Template())
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render template"))
		return
	}
	writeCSV(c, "students_template.csv", payload)
}

func writeCSV(c *gin.Context, filename string, payload []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", payload)
}
