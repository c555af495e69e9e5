package service

import (
	"fmt"
	"time"

	"github.com/school-vax/portal-api/internal/models"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
)

// EligibilityReason identifies why a student cannot be vaccinated on a drive.
type EligibilityReason string

const (
	ReasonAlreadyVaccinated  EligibilityReason = "already_vaccinated"
	ReasonGradeNotApplicable EligibilityReason = "grade_not_applicable"
	ReasonNoDosesRemaining   EligibilityReason = "no_doses_remaining"
)

// EligibilityResult is the verdict for one (student, drive) pairing. Reason
// is empty when Eligible is true; at most one reason is ever reported.
type EligibilityResult struct {
	Eligible bool              `json:"eligible"`
	Reason   EligibilityReason `json:"reason,omitempty"`
}

// ValidateDrive checks a candidate drive's scheduling fields against the
// drive's siblings. existing must hold the other drives of the same vaccine,
// excluding the candidate itself when re-validating an update. The current
// date is passed in so callers control the clock.
//
// Two rules apply, both surfaced as field-tagged validation errors:
// the date must be at least minLeadDays ahead of today, and no sibling may
// share the candidate's date. Update-blocking for past drives is a caller
// concern and happens before this runs.
func ValidateDrive(candidate *models.VaccinationDrive, existing []models.VaccinationDrive, today time.Time, minLeadDays int) error {
	fields := map[string]string{}

	if _, err := models.ParseGradeSpec(candidate.ApplicableGrades); err != nil {
		fields["applicable_grades"] = err.Error()
	}
	if candidate.DosesAvailable <= 0 {
		fields["doses_available"] = "doses available must be a positive integer"
	}

	minAllowed := truncateDay(today).AddDate(0, 0, minLeadDays)
	if truncateDay(candidate.Date).Before(minAllowed) {
		fields["date"] = fmt.Sprintf("drive must be scheduled at least %d days in advance (on or after %s)",
			minLeadDays, minAllowed.Format("2006-01-02"))
	} else {
		for _, other := range existing {
			if sameDay(other.Date, candidate.Date) {
				fields["date"] = "a drive for this vaccine already exists on this date"
				break
			}
		}
	}

	if len(fields) > 0 {
		return appErrors.WithFields(appErrors.Clone(appErrors.ErrValidation, "drive validation failed"), fields)
	}
	return nil
}

// CheckEligibility decides whether one student may be vaccinated on a drive.
// alreadyVaccinated reports whether the student has any record for the
// drive's vaccine across all drives; usedDoses is the drive's current count.
// When several reasons apply the first in the fixed order wins:
// already vaccinated, then grade, then capacity.
func CheckEligibility(student *models.Student, drive *models.VaccinationDrive, alreadyVaccinated bool, usedDoses int) (EligibilityResult, error) {
	spec, err := models.ParseGradeSpec(drive.ApplicableGrades)
	if err != nil {
		return EligibilityResult{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid applicable grades on drive")
	}

	switch {
	case alreadyVaccinated:
		return EligibilityResult{Reason: ReasonAlreadyVaccinated}, nil
	case !spec.Contains(student.Grade):
		return EligibilityResult{Reason: ReasonGradeNotApplicable}, nil
	case usedDoses >= drive.DosesAvailable:
		return EligibilityResult{Reason: ReasonNoDosesRemaining}, nil
	}
	return EligibilityResult{Eligible: true}, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
