package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/school-vax/portal-api/internal/models"
)

// VaccinationRepository manages persistence for student vaccination records.
type VaccinationRepository struct {
	db *sqlx.DB
}

// NewVaccinationRepository constructs a VaccinationRepository.
func NewVaccinationRepository(db *sqlx.DB) *VaccinationRepository {
	return &VaccinationRepository{db: db}
}

// VaccinationBatchTx scopes a batch of vaccination writes to one transaction.
// LockDrive must be called before reading counts so that concurrent batches
// against the same drive serialize on the drive row.
type VaccinationBatchTx interface {
	LockDrive(ctx context.Context, driveID string) error
	CountByDrive(ctx context.Context, driveID string) (int, error)
	ExistsForVaccine(ctx context.Context, studentID, vaccineID string) (bool, error)
	Create(ctx context.Context, vaccination *models.StudentVaccination) error
	Commit() error
	Rollback() error
}

type vaccinationBatch struct {
	tx *sqlx.Tx
}

// BeginBatch opens a transaction for a batch commit against one drive.
func (r *VaccinationRepository) BeginBatch(ctx context.Context) (VaccinationBatchTx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin vaccination batch: %w", err)
	}
	return &vaccinationBatch{tx: tx}, nil
}

func (b *vaccinationBatch) LockDrive(ctx context.Context, driveID string) error {
	var id string
	const query = `SELECT id FROM vaccination_drives WHERE id = $1 FOR UPDATE`
	if err := b.tx.GetContext(ctx, &id, query, driveID); err != nil {
		return fmt.Errorf("lock drive: %w", err)
	}
	return nil
}

func (b *vaccinationBatch) CountByDrive(ctx context.Context, driveID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM student_vaccinations WHERE vaccination_drive_id = $1`
	if err := b.tx.GetContext(ctx, &count, query, driveID); err != nil {
		return 0, fmt.Errorf("count doses in batch: %w", err)
	}
	return count, nil
}

func (b *vaccinationBatch) ExistsForVaccine(ctx context.Context, studentID, vaccineID string) (bool, error) {
	const query = `SELECT 1 FROM student_vaccinations sv
        JOIN vaccination_drives vd ON vd.id = sv.vaccination_drive_id
        WHERE sv.student_id = $1 AND vd.vaccine_id = $2 LIMIT 1`
	var exists int
	if err := b.tx.GetContext(ctx, &exists, query, studentID, vaccineID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check vaccine history in batch: %w", err)
	}
	return true, nil
}

func (b *vaccinationBatch) Create(ctx context.Context, vaccination *models.StudentVaccination) error {
	prepareVaccination(vaccination)
	if _, err := b.tx.NamedExecContext(ctx, insertVaccinationQuery, vaccination); err != nil {
		return fmt.Errorf("create vaccination in batch: %w", err)
	}
	return nil
}

func (b *vaccinationBatch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit vaccination batch: %w", err)
	}
	return nil
}

func (b *vaccinationBatch) Rollback() error {
	return b.tx.Rollback()
}

const insertVaccinationQuery = `INSERT INTO student_vaccinations (id, student_id, vaccination_drive_id, date_administered, notes, created_at)
        VALUES (:id, :student_id, :vaccination_drive_id, :date_administered, :notes, :created_at)`

func prepareVaccination(v *models.StudentVaccination) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.DateAdministered.IsZero() {
		v.DateAdministered = now
	}
}

// List returns vaccination records with student and vaccine context.
func (r *VaccinationRepository) List(ctx context.Context, filter models.VaccinationFilter) ([]models.VaccinationDetail, int, error) {
	base := `FROM student_vaccinations sv
JOIN students s ON s.id = sv.student_id
JOIN vaccination_drives vd ON vd.id = sv.vaccination_drive_id
JOIN vaccines v ON v.id = vd.vaccine_id`
	var args []interface{}
	conditions := []string{"1=1"}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("sv.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.VaccineID != "" {
		conditions = append(conditions, fmt.Sprintf("vd.vaccine_id = $%d", len(args)+1))
		args = append(args, filter.VaccineID)
	}
	if filter.DriveID != "" {
		conditions = append(conditions, fmt.Sprintf("sv.vaccination_drive_id = $%d", len(args)+1))
		args = append(args, filter.DriveID)
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"date_administered": "sv.date_administered",
		"student_name":      "s.last_name",
		"created_at":        "sv.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "sv.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT sv.id, sv.student_id, sv.vaccination_drive_id, sv.date_administered, sv.notes, sv.created_at,
        s.first_name || ' ' || s.last_name AS student_name, s.student_id AS student_external_id, v.name AS vaccine_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var vaccinations []models.VaccinationDetail
	if err := r.db.SelectContext(ctx, &vaccinations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list vaccinations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count vaccinations: %w", err)
	}
	return vaccinations, total, nil
}

// FindByID fetches a vaccination record by ID.
func (r *VaccinationRepository) FindByID(ctx context.Context, id string) (*models.StudentVaccination, error) {
	const query = `SELECT id, student_id, vaccination_drive_id, date_administered, notes, created_at
        FROM student_vaccinations WHERE id = $1`
	var vaccination models.StudentVaccination
	if err := r.db.GetContext(ctx, &vaccination, query, id); err != nil {
		return nil, err
	}
	return &vaccination, nil
}

// CountByDrive returns the number of vaccinations recorded against a drive.
func (r *VaccinationRepository) CountByDrive(ctx context.Context, driveID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM student_vaccinations WHERE vaccination_drive_id = $1`
	if err := r.db.GetContext(ctx, &count, query, driveID); err != nil {
		return 0, fmt.Errorf("count doses: %w", err)
	}
	return count, nil
}

// ExistsForVaccine reports whether the student already has a vaccination for
// the vaccine across any drive, optionally excluding one record by ID.
func (r *VaccinationRepository) ExistsForVaccine(ctx context.Context, studentID, vaccineID, excludeID string) (bool, error) {
	query := `SELECT 1 FROM student_vaccinations sv
        JOIN vaccination_drives vd ON vd.id = sv.vaccination_drive_id
        WHERE sv.student_id = $1 AND vd.vaccine_id = $2`
	args := []interface{}{studentID, vaccineID}
	if excludeID != "" {
		query += " AND sv.id <> $3"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check vaccine history: %w", err)
	}
	return true, nil
}

// HistoryByStudents returns received vaccines keyed by student internal id.
func (r *VaccinationRepository) HistoryByStudents(ctx context.Context, studentIDs []string) (map[string][]models.ReceivedVaccine, error) {
	result := make(map[string][]models.ReceivedVaccine, len(studentIDs))
	if len(studentIDs) == 0 {
		return result, nil
	}
	placeholders := make([]string, len(studentIDs))
	args := make([]interface{}, len(studentIDs))
	for i, id := range studentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT sv.student_id, sv.id, v.name, sv.date_administered
        FROM student_vaccinations sv
        JOIN vaccination_drives vd ON vd.id = sv.vaccination_drive_id
        JOIN vaccines v ON v.id = vd.vaccine_id
        WHERE sv.student_id IN (%s)
        ORDER BY sv.date_administered`, strings.Join(placeholders, ","))
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vaccine history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var studentID string
		var received models.ReceivedVaccine
		if err := rows.Scan(&studentID, &received.VaccinationID, &received.VaccineName, &received.DateAdministered); err != nil {
			return nil, fmt.Errorf("scan vaccine history: %w", err)
		}
		result[studentID] = append(result[studentID], received)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vaccine history: %w", err)
	}
	return result, nil
}

// Create inserts a vaccination record outside a batch.
func (r *VaccinationRepository) Create(ctx context.Context, vaccination *models.StudentVaccination) error {
	prepareVaccination(vaccination)
	if _, err := r.db.NamedExecContext(ctx, insertVaccinationQuery, vaccination); err != nil {
		return fmt.Errorf("create vaccination: %w", err)
	}
	return nil
}

// Update modifies the administered date and notes of a record. The
// student/drive association never changes on update.
func (r *VaccinationRepository) Update(ctx context.Context, vaccination *models.StudentVaccination) error {
	const query = `UPDATE student_vaccinations SET date_administered = :date_administered, notes = :notes WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, vaccination); err != nil {
		return fmt.Errorf("update vaccination: %w", err)
	}
	return nil
}

// Delete removes a vaccination record.
func (r *VaccinationRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM student_vaccinations WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete vaccination: %w", err)
	}
	return nil
}
