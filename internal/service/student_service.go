package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/school-vax/portal-api/internal/models"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
	"github.com/school-vax/portal-api/pkg/export"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	ListAll(ctx context.Context) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByStudentID(ctx context.Context, studentID string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

type studentHistoryReader interface {
	HistoryByStudents(ctx context.Context, studentIDs []string) (map[string][]models.ReceivedVaccine, error)
}

// CreateStudentRequest holds payload for registering a student.
type CreateStudentRequest struct {
	StudentID   string    `json:"student_id" validate:"required"`
	FirstName   string    `json:"first_name" validate:"required"`
	LastName    string    `json:"last_name" validate:"required"`
	DateOfBirth time.Time `json:"date_of_birth" validate:"required"`
	Grade       int       `json:"grade" validate:"required,gt=0"`
	Section     string    `json:"section"`
}

// UpdateStudentRequest holds payload for updating a student.
type UpdateStudentRequest struct {
	StudentID   string    `json:"student_id" validate:"required"`
	FirstName   string    `json:"first_name" validate:"required"`
	LastName    string    `json:"last_name" validate:"required"`
	DateOfBirth time.Time `json:"date_of_birth" validate:"required"`
	Grade       int       `json:"grade" validate:"required,gt=0"`
	Section     string    `json:"section"`
}

// BulkImportResult reports the outcome of a CSV student import.
type BulkImportResult struct {
	ImportedCount int      `json:"imported_count"`
	Errors        []string `json:"errors,omitempty"`
}

var importColumns = []string{"first_name", "last_name", "student_id", "date_of_birth", "grade", "section"}

// StudentService handles student use-cases including CSV import and export.
type StudentService struct {
	repo        studentRepository
	history     studentHistoryReader
	invalidator dashboardInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewStudentService constructs the student service. invalidator may be nil.
func NewStudentService(repo studentRepository, history studentHistoryReader, invalidator dashboardInvalidator, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, history: history, invalidator: invalidator, validator: validate, logger: logger}
}

// List returns students with their vaccination status summaries.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	ids := make([]string, len(students))
	for i, student := range students {
		ids[i] = student.ID
	}
	history, err := s.history.HistoryByStudents(ctx, ids)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vaccination history")
	}

	details := make([]models.StudentDetail, len(students))
	for i, student := range students {
		details[i] = models.StudentDetail{
			Student:           student,
			VaccinationStatus: vaccinationStatus(history[student.ID]),
		}
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
	return details, pagination, nil
}

// Get returns one student with vaccination status.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	history, err := s.history.HistoryByStudents(ctx, []string{student.ID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vaccination history")
	}
	return &models.StudentDetail{Student: *student, VaccinationStatus: vaccinationStatus(history[student.ID])}, nil
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	exists, err := s.repo.ExistsByStudentID(ctx, req.StudentID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student id")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student id already used")
	}
	student := &models.Student{
		StudentID:   req.StudentID,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Grade:       req.Grade,
		Section:     req.Section,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.invalidateDashboard(ctx)
	return student, nil
}

// Update modifies an existing student.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	exists, err := s.repo.ExistsByStudentID(ctx, req.StudentID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student id")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student id already used")
	}

	student.StudentID = req.StudentID
	student.FirstName = req.FirstName
	student.LastName = req.LastName
	student.DateOfBirth = req.DateOfBirth
	student.Grade = req.Grade
	student.Section = req.Section
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Delete removes a student; vaccination records cascade at the store level.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.invalidateDashboard(ctx)
	return nil
}

// BulkImport reads a CSV stream and registers each row as a student. Rows
// that fail validation are reported individually and do not stop the import.
// The whole call fails only when not a single row imports.
func (s *StudentService) BulkImport(ctx context.Context, r io.Reader) (*BulkImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read CSV header")
	}
	index := map[string]int{}
	for i, col := range header {
		index[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range importColumns {
		if _, ok := index[col]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("CSV is missing required column %q", col))
		}
	}

	result := &BulkImportResult{}
	seen := map[string]bool{}
	for rowNum := 2; ; rowNum++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
			continue
		}

		field := func(name string) string { return strings.TrimSpace(row[index[name]]) }
		externalID := field("student_id")
		if externalID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: student_id is required", rowNum))
			continue
		}
		if seen[externalID] {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: duplicate student id %q in file", rowNum, externalID))
			continue
		}
		exists, err := s.repo.ExistsByStudentID(ctx, externalID, "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student id")
		}
		if exists {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: student id %q already exists", rowNum, externalID))
			continue
		}

		dob, err := time.Parse("2006-01-02", field("date_of_birth"))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: invalid date_of_birth %q, expected YYYY-MM-DD", rowNum, field("date_of_birth")))
			continue
		}
		grade, err := strconv.Atoi(field("grade"))
		if err != nil || grade <= 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: invalid grade %q, expected a positive integer", rowNum, field("grade")))
			continue
		}

		student := &models.Student{
			StudentID:   externalID,
			FirstName:   field("first_name"),
			LastName:    field("last_name"),
			DateOfBirth: dob,
			Grade:       grade,
			Section:     field("section"),
		}
		if student.FirstName == "" || student.LastName == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: first_name and last_name are required", rowNum))
			continue
		}
		if err := s.repo.Create(ctx, student); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		}
		seen[externalID] = true
		result.ImportedCount++
	}

	if result.ImportedCount == 0 && len(result.Errors) > 0 {
		return result, appErrors.Clone(appErrors.ErrValidation, "no rows could be imported")
	}
	if result.ImportedCount > 0 {
		s.invalidateDashboard(ctx)
	}
	s.logger.Info("student CSV import finished",
		zap.Int("imported", result.ImportedCount),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// Export renders every student as a CSV dataset, optionally with
// vaccination status columns.
func (s *StudentService) Export(ctx context.Context, includeVaccination bool) (export.Dataset, error) {
	students, err := s.repo.ListAll(ctx)
	if err != nil {
		return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	headers := append([]string{}, importColumns...)
	var history map[string][]models.ReceivedVaccine
	if includeVaccination {
		headers = append(headers, "vaccination_status", "vaccines_received")
		ids := make([]string, len(students))
		for i, student := range students {
			ids[i] = student.ID
		}
		history, err = s.history.HistoryByStudents(ctx, ids)
		if err != nil {
			return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vaccination history")
		}
	}

	dataset := export.Dataset{Headers: headers, Rows: make([]map[string]string, 0, len(students))}
	for _, student := range students {
		row := map[string]string{
			"first_name":    student.FirstName,
			"last_name":     student.LastName,
			"student_id":    student.StudentID,
			"date_of_birth": student.DateOfBirth.Format("2006-01-02"),
			"grade":         strconv.Itoa(student.Grade),
			"section":       student.Section,
		}
		if includeVaccination {
			status := vaccinationStatus(history[student.ID])
			received := make([]string, len(status.Vaccines))
			for i, v := range status.Vaccines {
				received[i] = fmt.Sprintf("%s (%s)", v.VaccineName, v.DateAdministered.Format("2006-01-02"))
			}
			row["vaccination_status"] = status.Status
			row["vaccines_received"] = strings.Join(received, "; ")
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	return dataset, nil
}

// Template returns the CSV import template with one sample row.
func (s *StudentService) Template() export.Dataset {
	return export.Dataset{
		Headers: append([]string{}, importColumns...),
		Rows: []map[string]string{{
			"first_name":    "Jane",
			"last_name":     "Doe",
			"student_id":    "STU-1001",
			"date_of_birth": "2014-03-21",
			"grade":         "5",
			"section":       "A",
		}},
	}
}

func (s *StudentService) invalidateDashboard(ctx context.Context) {
	if s.invalidator != nil {
		s.invalidator.InvalidateDashboard(ctx)
	}
}

func vaccinationStatus(received []models.ReceivedVaccine) models.VaccinationStatus {
	status := models.VaccinationStatus{
		Status:   "not_vaccinated",
		Count:    len(received),
		Vaccines: received,
	}
	if len(received) > 0 {
		status.Status = "vaccinated"
	}
	if status.Vaccines == nil {
		status.Vaccines = []models.ReceivedVaccine{}
	}
	return status
}
