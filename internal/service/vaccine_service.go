package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/school-vax/portal-api/internal/models"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
)

type vaccineRepository interface {
	List(ctx context.Context, filter models.VaccineFilter) ([]models.Vaccine, int, error)
	FindByID(ctx context.Context, id string) (*models.Vaccine, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	Create(ctx context.Context, vaccine *models.Vaccine) error
	Update(ctx context.Context, vaccine *models.Vaccine) error
	Delete(ctx context.Context, id string) error
}

// CreateVaccineRequest holds payload for registering a vaccine.
type CreateVaccineRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// UpdateVaccineRequest holds payload for updating a vaccine.
type UpdateVaccineRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// VaccineService handles vaccine use-cases.
type VaccineService struct {
	repo      vaccineRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewVaccineService constructs the vaccine service.
func NewVaccineService(repo vaccineRepository, validate *validator.Validate, logger *zap.Logger) *VaccineService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VaccineService{repo: repo, validator: validate, logger: logger}
}

// List returns vaccines and pagination metadata.
func (s *VaccineService) List(ctx context.Context, filter models.VaccineFilter) ([]models.Vaccine, *models.Pagination, error) {
	vaccines, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list vaccines")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return vaccines, pagination, nil
}

// Get returns one vaccine.
func (s *VaccineService) Get(ctx context.Context, id string) (*models.Vaccine, error) {
	vaccine, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vaccine not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vaccine")
	}
	return vaccine, nil
}

// Create registers a new vaccine with a unique name.
func (s *VaccineService) Create(ctx context.Context, req CreateVaccineRequest) (*models.Vaccine, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid vaccine payload")
	}
	exists, err := s.repo.ExistsByName(ctx, req.Name, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate vaccine name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "vaccine name already used")
	}
	vaccine := &models.Vaccine{Name: req.Name, Description: req.Description}
	if err := s.repo.Create(ctx, vaccine); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create vaccine")
	}
	return vaccine, nil
}

// Update modifies an existing vaccine.
func (s *VaccineService) Update(ctx context.Context, id string, req UpdateVaccineRequest) (*models.Vaccine, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid vaccine payload")
	}
	vaccine, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByName(ctx, req.Name, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate vaccine name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "vaccine name already used")
	}
	vaccine.Name = req.Name
	vaccine.Description = req.Description
	if err := s.repo.Update(ctx, vaccine); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update vaccine")
	}
	return vaccine, nil
}

// Delete removes a vaccine; drives and records cascade at the store level.
func (s *VaccineService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete vaccine")
	}
	return nil
}
