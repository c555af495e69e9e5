package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VaccinationDrive is a scheduled event administering one vaccine on one
// calendar date with a fixed dose capacity and an applicable-grade spec.
type VaccinationDrive struct {
	ID               string    `db:"id" json:"id"`
	VaccineID        string    `db:"vaccine_id" json:"vaccine_id"`
	Date             time.Time `db:"date" json:"date"`
	DosesAvailable   int       `db:"doses_available" json:"doses_available"`
	ApplicableGrades string    `db:"applicable_grades" json:"applicable_grades"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// IsPast reports whether the drive's date is strictly before today.
// Both sides are compared at day precision.
func (d VaccinationDrive) IsPast(today time.Time) bool {
	return truncateToDay(d.Date).Before(truncateToDay(today))
}

// DriveFilter captures filtering criteria for listing drives.
type DriveFilter struct {
	VaccineID string
	// Upcoming restricts to drives dated today or later.
	Upcoming bool
	// NextMonth restricts to drives within [today, today+30d].
	NextMonth bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// DriveDetail augments a drive with derived presentation fields.
type DriveDetail struct {
	VaccinationDrive
	VaccineName string `db:"vaccine_name" json:"vaccine_name"`
	DosesUsed   int    `db:"doses_used" json:"doses_used"`
	Past        bool   `json:"is_past"`
}

// GradeSpec is a parsed applicable-grade specification: either a single
// grade or an inclusive min-max range.
type GradeSpec struct {
	Min int
	Max int
}

// ParseGradeSpec parses a specification like "5" or "5-7". Bounds must be
// positive integers with Min <= Max.
func ParseGradeSpec(raw string) (GradeSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return GradeSpec{}, fmt.Errorf("applicable grades must not be empty")
	}
	if strings.Contains(raw, "-") {
		parts := strings.SplitN(raw, "-", 2)
		min, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return GradeSpec{}, fmt.Errorf("invalid grade range %q", raw)
		}
		max, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return GradeSpec{}, fmt.Errorf("invalid grade range %q", raw)
		}
		if min <= 0 || max <= 0 {
			return GradeSpec{}, fmt.Errorf("grades must be positive in %q", raw)
		}
		if min > max {
			return GradeSpec{}, fmt.Errorf("grade range %q has min greater than max", raw)
		}
		return GradeSpec{Min: min, Max: max}, nil
	}
	grade, err := strconv.Atoi(raw)
	if err != nil {
		return GradeSpec{}, fmt.Errorf("invalid grade %q", raw)
	}
	if grade <= 0 {
		return GradeSpec{}, fmt.Errorf("grades must be positive in %q", raw)
	}
	return GradeSpec{Min: grade, Max: grade}, nil
}

// Contains reports whether the grade falls within the spec, inclusive.
func (g GradeSpec) Contains(grade int) bool {
	return grade >= g.Min && grade <= g.Max
}

// String renders the spec back into its wire representation.
func (g GradeSpec) String() string {
	if g.Min == g.Max {
		return strconv.Itoa(g.Min)
	}
	return fmt.Sprintf("%d-%d", g.Min, g.Max)
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
