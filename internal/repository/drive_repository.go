package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/school-vax/portal-api/internal/models"
)

// DriveRepository manages persistence for vaccination drives.
type DriveRepository struct {
	db *sqlx.DB
}

// NewDriveRepository constructs a DriveRepository.
func NewDriveRepository(db *sqlx.DB) *DriveRepository {
	return &DriveRepository{db: db}
}

// List returns drives with vaccine and usage context.
func (r *DriveRepository) List(ctx context.Context, filter models.DriveFilter, today time.Time) ([]models.DriveDetail, int, error) {
	base := `FROM vaccination_drives d
JOIN vaccines v ON v.id = d.vaccine_id`
	var args []interface{}
	conditions := []string{"1=1"}

	if filter.VaccineID != "" {
		conditions = append(conditions, fmt.Sprintf("d.vaccine_id = $%d", len(args)+1))
		args = append(args, filter.VaccineID)
	}
	if filter.Upcoming || filter.NextMonth {
		conditions = append(conditions, fmt.Sprintf("d.date >= $%d", len(args)+1))
		args = append(args, today)
	}
	if filter.NextMonth {
		conditions = append(conditions, fmt.Sprintf("d.date <= $%d", len(args)+1))
		args = append(args, today.AddDate(0, 0, 30))
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"date":       "d.date",
		"vaccine":    "v.name",
		"created_at": "d.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "d.date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT d.id, d.vaccine_id, d.date, d.doses_available, d.applicable_grades, d.created_at, d.updated_at,
        v.name AS vaccine_name,
        (SELECT COUNT(*) FROM student_vaccinations sv WHERE sv.vaccination_drive_id = d.id) AS doses_used
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var drives []models.DriveDetail
	if err := r.db.SelectContext(ctx, &drives, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list drives: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count drives: %w", err)
	}
	return drives, total, nil
}

// FindByID fetches a drive by ID.
func (r *DriveRepository) FindByID(ctx context.Context, id string) (*models.VaccinationDrive, error) {
	const query = `SELECT id, vaccine_id, date, doses_available, applicable_grades, created_at, updated_at
        FROM vaccination_drives WHERE id = $1`
	var drive models.VaccinationDrive
	if err := r.db.GetContext(ctx, &drive, query, id); err != nil {
		return nil, err
	}
	return &drive, nil
}

// FindDetailByID fetches a drive with vaccine name and dose usage.
func (r *DriveRepository) FindDetailByID(ctx context.Context, id string) (*models.DriveDetail, error) {
	const query = `SELECT d.id, d.vaccine_id, d.date, d.doses_available, d.applicable_grades, d.created_at, d.updated_at,
        v.name AS vaccine_name,
        (SELECT COUNT(*) FROM student_vaccinations sv WHERE sv.vaccination_drive_id = d.id) AS doses_used
        FROM vaccination_drives d
        JOIN vaccines v ON v.id = d.vaccine_id
        WHERE d.id = $1`
	var detail models.DriveDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByVaccine returns all drives for a vaccine, optionally excluding one
// by ID. Used by duplicate-date validation.
func (r *DriveRepository) ListByVaccine(ctx context.Context, vaccineID string, excludeID string) ([]models.VaccinationDrive, error) {
	query := `SELECT id, vaccine_id, date, doses_available, applicable_grades, created_at, updated_at
        FROM vaccination_drives WHERE vaccine_id = $1`
	args := []interface{}{vaccineID}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var drives []models.VaccinationDrive
	if err := r.db.SelectContext(ctx, &drives, query, args...); err != nil {
		return nil, fmt.Errorf("list drives by vaccine: %w", err)
	}
	return drives, nil
}

// Create inserts a new drive record.
func (r *DriveRepository) Create(ctx context.Context, drive *models.VaccinationDrive) error {
	if drive.ID == "" {
		drive.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if drive.CreatedAt.IsZero() {
		drive.CreatedAt = now
	}
	drive.UpdatedAt = now
	const query = `INSERT INTO vaccination_drives (id, vaccine_id, date, doses_available, applicable_grades, created_at, updated_at)
        VALUES (:id, :vaccine_id, :date, :doses_available, :applicable_grades, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, drive); err != nil {
		return fmt.Errorf("create drive: %w", err)
	}
	return nil
}

// Update modifies an existing drive.
func (r *DriveRepository) Update(ctx context.Context, drive *models.VaccinationDrive) error {
	drive.UpdatedAt = time.Now().UTC()
	const query = `UPDATE vaccination_drives SET vaccine_id = :vaccine_id, date = :date, doses_available = :doses_available,
        applicable_grades = :applicable_grades, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, drive); err != nil {
		return fmt.Errorf("update drive: %w", err)
	}
	return nil
}

// Delete removes a drive. Vaccination records cascade at the store level.
func (r *DriveRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM vaccination_drives WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete drive: %w", err)
	}
	return nil
}
