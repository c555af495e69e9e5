package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/school-vax/portal-api/internal/models"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
)

type driveRepository interface {
	List(ctx context.Context, filter models.DriveFilter, today time.Time) ([]models.DriveDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.VaccinationDrive, error)
	FindDetailByID(ctx context.Context, id string) (*models.DriveDetail, error)
	ListByVaccine(ctx context.Context, vaccineID string, excludeID string) ([]models.VaccinationDrive, error)
	Create(ctx context.Context, drive *models.VaccinationDrive) error
	Update(ctx context.Context, drive *models.VaccinationDrive) error
	Delete(ctx context.Context, id string) error
}

type driveVaccineReader interface {
	FindByID(ctx context.Context, id string) (*models.Vaccine, error)
}

// CreateDriveRequest holds payload for scheduling a drive.
type CreateDriveRequest struct {
	VaccineID        string    `json:"vaccine_id" validate:"required"`
	Date             time.Time `json:"date" validate:"required"`
	DosesAvailable   int       `json:"doses_available" validate:"required,gt=0"`
	ApplicableGrades string    `json:"applicable_grades" validate:"required"`
}

// UpdateDriveRequest holds payload for rescheduling a drive.
type UpdateDriveRequest struct {
	VaccineID        string    `json:"vaccine_id" validate:"required"`
	Date             time.Time `json:"date" validate:"required"`
	DosesAvailable   int       `json:"doses_available" validate:"required,gt=0"`
	ApplicableGrades string    `json:"applicable_grades" validate:"required"`
}

// DriveService handles vaccination drive use-cases.
type DriveService struct {
	repo        driveRepository
	vaccines    driveVaccineReader
	validator   *validator.Validate
	logger      *zap.Logger
	minLeadDays int
	now         func() time.Time
}

// NewDriveService constructs the drive service. minLeadDays is the minimum
// number of days between today and a drive's scheduled date.
func NewDriveService(repo driveRepository, vaccines driveVaccineReader, minLeadDays int, validate *validator.Validate, logger *zap.Logger) *DriveService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriveService{
		repo:        repo,
		vaccines:    vaccines,
		validator:   validate,
		logger:      logger,
		minLeadDays: minLeadDays,
		now:         time.Now,
	}
}

// WithClock overrides the service clock, used by date-sensitive tests.
func (s *DriveService) WithClock(now func() time.Time) *DriveService {
	s.now = now
	return s
}

// List returns drives and pagination metadata. The is_past flag is derived
// from the current date at call time.
func (s *DriveService) List(ctx context.Context, filter models.DriveFilter) ([]models.DriveDetail, *models.Pagination, error) {
	today := s.now()
	drives, total, err := s.repo.List(ctx, filter, today)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list drives")
	}
	for i := range drives {
		drives[i].Past = drives[i].IsPast(today)
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
	return drives, pagination, nil
}

// Get returns one drive with vaccine and usage context.
func (s *DriveService) Get(ctx context.Context, id string) (*models.DriveDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vaccination drive not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load drive")
	}
	detail.Past = detail.IsPast(s.now())
	return detail, nil
}

// Create schedules a new drive after running the scheduling checks.
func (s *DriveService) Create(ctx context.Context, req CreateDriveRequest) (*models.DriveDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drive payload")
	}
	if _, err := s.vaccines.FindByID(ctx, req.VaccineID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vaccine not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vaccine")
	}

	candidate := &models.VaccinationDrive{
		VaccineID:        req.VaccineID,
		Date:             req.Date,
		DosesAvailable:   req.DosesAvailable,
		ApplicableGrades: req.ApplicableGrades,
	}
	existing, err := s.repo.ListByVaccine(ctx, req.VaccineID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sibling drives")
	}
	if err := ValidateDrive(candidate, existing, s.now(), s.minLeadDays); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, candidate); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create drive")
	}
	s.logger.Info("vaccination drive scheduled",
		zap.String("drive_id", candidate.ID),
		zap.String("vaccine_id", candidate.VaccineID),
		zap.Time("date", candidate.Date))
	return s.Get(ctx, candidate.ID)
}

// Update reschedules a drive. Past drives are immutable: the check runs
// before any field validation.
func (s *DriveService) Update(ctx context.Context, id string, req UpdateDriveRequest) (*models.DriveDetail, error) {
	drive, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vaccination drive not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load drive")
	}
	if drive.IsPast(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrDrivePast, "past drives cannot be edited")
	}

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drive payload")
	}
	if _, err := s.vaccines.FindByID(ctx, req.VaccineID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vaccine not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vaccine")
	}

	drive.VaccineID = req.VaccineID
	drive.Date = req.Date
	drive.DosesAvailable = req.DosesAvailable
	drive.ApplicableGrades = req.ApplicableGrades

	existing, err := s.repo.ListByVaccine(ctx, req.VaccineID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sibling drives")
	}
	if err := ValidateDrive(drive, existing, s.now(), s.minLeadDays); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, drive); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update drive")
	}
	return s.Get(ctx, id)
}

// Delete removes a drive and, through store-level cascades, its records.
func (s *DriveService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "vaccination drive not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load drive")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete drive")
	}
	return nil
}
