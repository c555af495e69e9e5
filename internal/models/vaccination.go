package models

import "time"

// StudentVaccination records that a student received the vaccine associated
// with a drive on a given date. The (student, drive) pair is unique and a
// student may receive a given vaccine at most once across all drives.
type StudentVaccination struct {
	ID               string    `db:"id" json:"id"`
	StudentID        string    `db:"student_id" json:"student_id"`
	DriveID          string    `db:"vaccination_drive_id" json:"vaccination_drive_id"`
	DateAdministered time.Time `db:"date_administered" json:"date_administered"`
	Notes            string    `db:"notes" json:"notes"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// VaccinationFilter captures filtering criteria for listing vaccinations.
type VaccinationFilter struct {
	StudentID string
	VaccineID string
	DriveID   string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// VaccinationDetail joins a vaccination with student and vaccine context.
type VaccinationDetail struct {
	StudentVaccination
	StudentName     string `db:"student_name" json:"student_name"`
	StudentExternal string `db:"student_external_id" json:"student_external_id"`
	VaccineName     string `db:"vaccine_name" json:"vaccine_name"`
}
