package models

import "time"

// Student represents a learner registered with the coordinating school.
type Student struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	DateOfBirth time.Time `db:"date_of_birth" json:"date_of_birth"`
	Grade       int       `db:"grade" json:"grade"`
	Section     string    `db:"section" json:"section"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins the student's first and last names.
func (s Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Name      string
	Grade     *int
	StudentID string
	// VaccinationStatus filters by whether the student has received the
	// vaccine identified by VaccineID ("yes" or "no"). Ignored unless both
	// are set.
	VaccinationStatus string
	VaccineID         string
	Page              int
	PageSize          int
	SortBy            string
	SortOrder         string
}

// ReceivedVaccine is one administered vaccine in a student's history.
type ReceivedVaccine struct {
	VaccinationID    string    `json:"vaccination_id"`
	VaccineName      string    `json:"vaccine_name"`
	DateAdministered time.Time `json:"date_administered"`
}

// VaccinationStatus summarises a student's vaccination history.
type VaccinationStatus struct {
	Status   string            `json:"status"`
	Count    int               `json:"count"`
	Vaccines []ReceivedVaccine `json:"vaccines"`
}

// StudentDetail contains student information with vaccination context.
type StudentDetail struct {
	Student
	VaccinationStatus VaccinationStatus `json:"vaccination_status"`
}
