package repository

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/school-vax/portal-api/internal/models"
)

// ReportRepository aggregates read-only reporting queries.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// DashboardStats computes the headline dashboard numbers. Upcoming drives
// counts drives dated within the next 30 days starting today.
func (r *ReportRepository) DashboardStats(ctx context.Context, today time.Time) (*models.DashboardStats, error) {
	var stats models.DashboardStats

	if err := r.db.GetContext(ctx, &stats.TotalStudents, `SELECT COUNT(*) FROM students`); err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}
	if err := r.db.GetContext(ctx, &stats.VaccinatedStudents,
		`SELECT COUNT(DISTINCT student_id) FROM student_vaccinations`); err != nil {
		return nil, fmt.Errorf("count vaccinated students: %w", err)
	}
	if err := r.db.GetContext(ctx, &stats.UpcomingDrives,
		`SELECT COUNT(*) FROM vaccination_drives WHERE date >= $1 AND date <= $2`,
		today, today.AddDate(0, 0, 30)); err != nil {
		return nil, fmt.Errorf("count upcoming drives: %w", err)
	}

	if stats.TotalStudents > 0 {
		pct := float64(stats.VaccinatedStudents) / float64(stats.TotalStudents) * 100
		stats.VaccinationPercentage = math.Round(pct*100) / 100
	}
	return &stats, nil
}

// VaccinationReport lists administered vaccinations matching the filter.
func (r *ReportRepository) VaccinationReport(ctx context.Context, filter models.VaccinationReportFilter) ([]models.VaccinationReportRow, error) {
	base := `SELECT sv.id, s.student_id AS student_external_id, s.first_name || ' ' || s.last_name AS student_name,
        s.grade, s.section, v.name AS vaccine_name, sv.date_administered, sv.notes
FROM student_vaccinations sv
JOIN students s ON s.id = sv.student_id
JOIN vaccination_drives vd ON vd.id = sv.vaccination_drive_id
JOIN vaccines v ON v.id = vd.vaccine_id`
	var args []interface{}
	conditions := []string{"1=1"}

	if filter.VaccineID != "" {
		conditions = append(conditions, fmt.Sprintf("vd.vaccine_id = $%d", len(args)+1))
		args = append(args, filter.VaccineID)
	}
	if filter.Grade != nil {
		conditions = append(conditions, fmt.Sprintf("s.grade = $%d", len(args)+1))
		args = append(args, *filter.Grade)
	}
	if filter.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("sv.date_administered >= $%d", len(args)+1))
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("sv.date_administered <= $%d", len(args)+1))
		args = append(args, *filter.EndDate)
	}

	query := fmt.Sprintf("%s WHERE %s ORDER BY sv.date_administered DESC, s.last_name ASC", base, strings.Join(conditions, " AND "))

	var rows []models.VaccinationReportRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("vaccination report: %w", err)
	}
	return rows, nil
}
