package service

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/internal/repository"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
)

type vaccinationRepository interface {
	List(ctx context.Context, filter models.VaccinationFilter) ([]models.VaccinationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentVaccination, error)
	CountByDrive(ctx context.Context, driveID string) (int, error)
	ExistsForVaccine(ctx context.Context, studentID, vaccineID, excludeID string) (bool, error)
	Create(ctx context.Context, vaccination *models.StudentVaccination) error
	Update(ctx context.Context, vaccination *models.StudentVaccination) error
	Delete(ctx context.Context, id string) error
	BeginBatch(ctx context.Context) (repository.VaccinationBatchTx, error)
}

type vaccinationDriveReader interface {
	FindByID(ctx context.Context, id string) (*models.VaccinationDrive, error)
	FindDetailByID(ctx context.Context, id string) (*models.DriveDetail, error)
}

type vaccinationStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type dashboardInvalidator interface {
	InvalidateDashboard(ctx context.Context)
}

// Batch outcome statuses. Reasons reuse the eligibility reason strings.
const (
	OutcomeCreated  = "created"
	OutcomeNotFound = "not_found"
	OutcomeEligible = "eligible"
)

// BatchOutcome is the result for one student id in a batch commit.
type BatchOutcome struct {
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
}

// BatchResult reports a batch commit: outcomes in input order for every id
// processed before the batch halted, plus the count of created records.
type BatchResult struct {
	DriveID      string         `json:"drive_id"`
	Outcomes     []BatchOutcome `json:"outcomes"`
	CreatedCount int            `json:"created_count"`
}

// StudentVerdict is one row of an eligibility report.
type StudentVerdict struct {
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name,omitempty"`
	Status      string `json:"status"`
}

// EligibilityReport is the read-only feasibility answer for a drive and a
// set of candidate students.
type EligibilityReport struct {
	DriveID        string           `json:"drive_id"`
	VaccineName    string           `json:"vaccine_name"`
	RemainingDoses int              `json:"remaining_doses"`
	Students       []StudentVerdict `json:"students"`
}

// CreateVaccinationRequest holds payload for recording one vaccination.
type CreateVaccinationRequest struct {
	StudentID        string     `json:"student_id" validate:"required"`
	DriveID          string     `json:"vaccination_drive_id" validate:"required"`
	DateAdministered *time.Time `json:"date_administered"`
	Notes            string     `json:"notes"`
}

// UpdateVaccinationRequest holds the mutable fields of a vaccination record.
// The student and drive association never changes after creation.
type UpdateVaccinationRequest struct {
	DateAdministered *time.Time `json:"date_administered"`
	Notes            string     `json:"notes"`
}

// VaccinationService handles vaccination record use-cases, including the
// batch mark and eligibility report operations.
type VaccinationService struct {
	repo        vaccinationRepository
	drives      vaccinationDriveReader
	students    vaccinationStudentReader
	invalidator dashboardInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewVaccinationService constructs the vaccination service. invalidator may
// be nil when no dashboard cache is configured.
func NewVaccinationService(repo vaccinationRepository, drives vaccinationDriveReader, students vaccinationStudentReader, invalidator dashboardInvalidator, validate *validator.Validate, logger *zap.Logger) *VaccinationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VaccinationService{
		repo:        repo,
		drives:      drives,
		students:    students,
		invalidator: invalidator,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the service clock, used by date-sensitive tests.
func (s *VaccinationService) WithClock(now func() time.Time) *VaccinationService {
	s.now = now
	return s
}

// List returns vaccination records and pagination metadata.
func (s *VaccinationService) List(ctx context.Context, filter models.VaccinationFilter) ([]models.VaccinationDetail, *models.Pagination, error) {
	vaccinations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list vaccinations")
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
	return vaccinations, pagination, nil
}

// Get returns one vaccination record.
func (s *VaccinationService) Get(ctx context.Context, id string) (*models.StudentVaccination, error) {
	vaccination, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vaccination record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vaccination record")
	}
	return vaccination, nil
}

// Create records a single vaccination after running the full eligibility
// checks against the target drive.
func (s *VaccinationService) Create(ctx context.Context, req CreateVaccinationRequest) (*models.StudentVaccination, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid vaccination payload")
	}

	drive, err := s.drives.FindByID(ctx, req.DriveID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vaccination drive not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load drive")
	}
	if drive.IsPast(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrDrivePast, "cannot record vaccinations for a past drive")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	already, err := s.repo.ExistsForVaccine(ctx, student.ID, drive.VaccineID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check vaccination history")
	}
	used, err := s.repo.CountByDrive(ctx, drive.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count doses")
	}

	result, err := CheckEligibility(student, drive, already, used)
	if err != nil {
		return nil, err
	}
	if !result.Eligible {
		return nil, ineligibilityError(result.Reason)
	}

	vaccination := &models.StudentVaccination{
		StudentID: student.ID,
		DriveID:   drive.ID,
		Notes:     req.Notes,
	}
	if req.DateAdministered != nil {
		vaccination.DateAdministered = *req.DateAdministered
	} else {
		vaccination.DateAdministered = s.now().UTC()
	}
	if err := s.repo.Create(ctx, vaccination); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create vaccination record")
	}
	s.invalidateDashboard(ctx)
	return vaccination, nil
}

// Update changes the administered date or notes of an existing record.
// Edits are rejected once the record's drive is in the past.
func (s *VaccinationService) Update(ctx context.Context, id string, req UpdateVaccinationRequest) (*models.StudentVaccination, error) {
	vaccination, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	drive, err := s.drives.FindByID(ctx, vaccination.DriveID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load drive")
	}
	if drive.IsPast(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrDrivePast, "cannot edit vaccinations of a past drive")
	}

	if req.DateAdministered != nil {
		vaccination.DateAdministered = *req.DateAdministered
	}
	vaccination.Notes = req.Notes
	if err := s.repo.Update(ctx, vaccination); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update vaccination record")
	}
	return vaccination, nil
}

// Delete removes a vaccination record.
func (s *VaccinationService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete vaccination record")
	}
	s.invalidateDashboard(ctx)
	return nil
}

// MarkStudents commits vaccinations for an ordered list of student ids
// against one drive inside a single transaction. Ids are processed in the
// given order; ineligible students are skipped with a per-student outcome,
// except dose exhaustion which halts the whole batch. All writes roll back
// together on any store failure.
func (s *VaccinationService) MarkStudents(ctx context.Context, driveID string, studentIDs []string) (*BatchResult, error) {
	if len(studentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_ids must not be empty")
	}

	drive, err := s.drives.FindByID(ctx, driveID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vaccination drive not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load drive")
	}
	if drive.IsPast(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrDrivePast, "cannot record vaccinations for a past drive")
	}
	// Surfaces malformed grade specs before any transaction work.
	if _, err := models.ParseGradeSpec(drive.ApplicableGrades); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid applicable grades on drive")
	}

	batch, err := s.repo.BeginBatch(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open batch transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = batch.Rollback()
		}
	}()

	// The drive row lock serializes concurrent batches against the same
	// drive, making the count-then-insert sequence atomic.
	if err := batch.LockDrive(ctx, driveID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock drive")
	}
	used, err := batch.CountByDrive(ctx, driveID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count doses")
	}

	result := &BatchResult{DriveID: driveID, Outcomes: make([]BatchOutcome, 0, len(studentIDs))}
	for _, studentID := range studentIDs {
		student, err := s.students.FindByID(ctx, studentID)
		if err != nil {
			if err == sql.ErrNoRows {
				result.Outcomes = append(result.Outcomes, BatchOutcome{StudentID: studentID, Status: OutcomeNotFound})
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}

		already, err := batch.ExistsForVaccine(ctx, student.ID, drive.VaccineID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check vaccination history")
		}

		verdict, err := CheckEligibility(student, drive, already, used)
		if err != nil {
			return nil, err
		}
		if !verdict.Eligible {
			result.Outcomes = append(result.Outcomes, BatchOutcome{StudentID: studentID, Status: string(verdict.Reason)})
			if verdict.Reason == ReasonNoDosesRemaining {
				break
			}
			continue
		}

		record := &models.StudentVaccination{
			StudentID:        student.ID,
			DriveID:          driveID,
			DateAdministered: s.now().UTC(),
		}
		if err := batch.Create(ctx, record); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create vaccination record")
		}
		used++
		result.CreatedCount++
		result.Outcomes = append(result.Outcomes, BatchOutcome{StudentID: studentID, Status: OutcomeCreated})
	}

	if err := batch.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit batch")
	}
	committed = true
	if result.CreatedCount > 0 {
		s.invalidateDashboard(ctx)
	}
	s.logger.Info("batch vaccination committed",
		zap.String("drive_id", driveID),
		zap.Int("requested", len(studentIDs)),
		zap.Int("created", result.CreatedCount))
	return result, nil
}

// CheckEligibilityReport answers, without mutating anything, whether the
// given students could be vaccinated on a drive. Unlike MarkStudents it
// fails wholesale when the drive lacks capacity for the whole request.
func (s *VaccinationService) CheckEligibilityReport(ctx context.Context, driveID string, studentIDs []string) (*EligibilityReport, error) {
	if len(studentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_ids must not be empty")
	}

	detail, err := s.drives.FindDetailByID(ctx, driveID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vaccination drive not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load drive")
	}

	remaining := detail.DosesAvailable - detail.DosesUsed
	if remaining <= 0 {
		return nil, appErrors.Clone(appErrors.ErrNoDosesRemaining, "")
	}
	if len(studentIDs) > remaining {
		return nil, appErrors.WithFields(appErrors.Clone(appErrors.ErrInsufficientDoses, ""), map[string]string{
			"remaining_doses": strconv.Itoa(remaining),
			"requested":       strconv.Itoa(len(studentIDs)),
		})
	}

	report := &EligibilityReport{
		DriveID:        detail.ID,
		VaccineName:    detail.VaccineName,
		RemainingDoses: remaining,
		Students:       make([]StudentVerdict, 0, len(studentIDs)),
	}
	for _, studentID := range studentIDs {
		student, err := s.students.FindByID(ctx, studentID)
		if err != nil {
			if err == sql.ErrNoRows {
				report.Students = append(report.Students, StudentVerdict{StudentID: studentID, Status: OutcomeNotFound})
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}

		already, err := s.repo.ExistsForVaccine(ctx, student.ID, detail.VaccineID, "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check vaccination history")
		}

		verdict, err := CheckEligibility(student, &detail.VaccinationDrive, already, detail.DosesUsed)
		if err != nil {
			return nil, err
		}
		status := OutcomeEligible
		if !verdict.Eligible {
			status = string(verdict.Reason)
		}
		report.Students = append(report.Students, StudentVerdict{
			StudentID:   studentID,
			StudentName: student.FullName(),
			Status:      status,
		})
	}
	return report, nil
}

func (s *VaccinationService) invalidateDashboard(ctx context.Context) {
	if s.invalidator != nil {
		s.invalidator.InvalidateDashboard(ctx)
	}
}

func ineligibilityError(reason EligibilityReason) *appErrors.Error {
	switch reason {
	case ReasonAlreadyVaccinated:
		return appErrors.Clone(appErrors.ErrConflict, "student already vaccinated for this vaccine")
	case ReasonGradeNotApplicable:
		return appErrors.WithFields(appErrors.Clone(appErrors.ErrValidation, "student grade is not applicable for this drive"), map[string]string{
			"grade": "student grade is outside the drive's applicable grades",
		})
	case ReasonNoDosesRemaining:
		return appErrors.Clone(appErrors.ErrNoDosesRemaining, "")
	default:
		return appErrors.Clone(appErrors.ErrValidation, "student is not eligible")
	}
}
