package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/internal/service"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
	"github.com/school-vax/portal-api/pkg/response"
)

// VaccineHandler exposes vaccine endpoints.
type VaccineHandler struct {
	vaccines *service.VaccineService
}

// NewVaccineHandler constructs VaccineHandler.
func NewVaccineHandler(vaccines *service.VaccineService) *VaccineHandler {
	return &VaccineHandler{vaccines: vaccines}
}

// List godoc
// @Summary List vaccines
// @Tags Vaccines
// @Produce json
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /vaccines [get]
func (h *VaccineHandler) List(c *gin.Context) {
	var filter models.VaccineFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	vaccines, pagination, err := h.vaccines.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vaccines, pagination)
}

// Get godoc
// @Summary Get vaccine
// @Tags Vaccines
// @Produce json
// @Param id path string true "Vaccine ID"
// @Success 200 {object} response.Envelope
// @Router /vaccines/{id} [get]
func (h *VaccineHandler) Get(c *gin.Context) {
	vaccine, err := h.vaccines.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vaccine, nil)
}

// Create godoc
// @Summary Create vaccine
// @Tags Vaccines
// @Accept json
// @Produce json
// @Param payload body service.CreateVaccineRequest true "Vaccine payload"
// @Success 201 {object} response.Envelope
// @Router /vaccines [post]
func (h *VaccineHandler) Create(c *gin.Context) {
	var req service.CreateVaccineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	vaccine, err := h.vaccines.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, vaccine)
}

// Update godoc
// @Summary Update vaccine
// @Tags Vaccines
// @Accept json
// @Produce json
// @Param id path string true "Vaccine ID"
// @Param payload body service.UpdateVaccineRequest true "Vaccine payload"
// @Success 200 {object} response.Envelope
// @Router /vaccines/{id} [put]
func (h *VaccineHandler) Update(c *gin.Context) {
	var req service.UpdateVaccineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	vaccine, err := h.vaccines.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vaccine, nil)
}

// Delete godoc
// @Summary Delete vaccine
// @Tags Vaccines
// @Produce json
// @Param id path string true "Vaccine ID"
// @Success 204
// @Router /vaccines/{id} [delete]
func (h *VaccineHandler) Delete(c *gin.Context) {
	if err := h.vaccines.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
