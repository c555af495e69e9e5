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

// VaccineRepository manages persistence for vaccine records.
type VaccineRepository struct {
	db *sqlx.DB
}

// NewVaccineRepository constructs a VaccineRepository.
func NewVaccineRepository(db *sqlx.DB) *VaccineRepository {
	return &VaccineRepository{db: db}
}

// List returns vaccines matching the provided filters.
func (r *VaccineRepository) List(ctx context.Context, filter models.VaccineFilter) ([]models.Vaccine, int, error) {
	base := "FROM vaccines v"
	var args []interface{}
	conditions := []string{"1=1"}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(v.name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"name":       "v.name",
		"created_at": "v.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "v.name"
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

	query := fmt.Sprintf(`SELECT v.id, v.name, v.description, v.created_at, v.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var vaccines []models.Vaccine
	if err := r.db.SelectContext(ctx, &vaccines, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list vaccines: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count vaccines: %w", err)
	}
	return vaccines, total, nil
}

// FindByID fetches a vaccine by ID.
func (r *VaccineRepository) FindByID(ctx context.Context, id string) (*models.Vaccine, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM vaccines WHERE id = $1`
	var vaccine models.Vaccine
	if err := r.db.GetContext(ctx, &vaccine, query, id); err != nil {
		return nil, err
	}
	return &vaccine, nil
}

// ExistsByName checks if a vaccine with the given name exists, optionally
// excluding an ID.
func (r *VaccineRepository) ExistsByName(ctx context.Context, name string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM vaccines WHERE LOWER(name) = LOWER($1)"
	args := []interface{}{name}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check vaccine name: %w", err)
	}
	return true, nil
}

// Create inserts a new vaccine record.
func (r *VaccineRepository) Create(ctx context.Context, vaccine *models.Vaccine) error {
	if vaccine.ID == "" {
		vaccine.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if vaccine.CreatedAt.IsZero() {
		vaccine.CreatedAt = now
	}
	vaccine.UpdatedAt = now
	const query = `INSERT INTO vaccines (id, name, description, created_at, updated_at)
        VALUES (:id, :name, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, vaccine); err != nil {
		return fmt.Errorf("create vaccine: %w", err)
	}
	return nil
}

// Update modifies an existing vaccine.
func (r *VaccineRepository) Update(ctx context.Context, vaccine *models.Vaccine) error {
	vaccine.UpdatedAt = time.Now().UTC()
	const query = `UPDATE vaccines SET name = :name, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, vaccine); err != nil {
		return fmt.Errorf("update vaccine: %w", err)
	}
	return nil
}

// Delete removes a vaccine. Drives and vaccination records cascade at the
// store level.
func (r *VaccineRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM vaccines WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete vaccine: %w", err)
	}
	return nil
}
