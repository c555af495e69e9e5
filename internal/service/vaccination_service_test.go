package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/internal/repository"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
)

// vaxStore is an in-memory stand-in for the vaccination, drive and student
// repositories. Batch writes stage in a pending slice and only land in
// records on Commit, mirroring transaction semantics.
type vaxStore struct {
	drives       map[string]*models.VaccinationDrive
	vaccineNames map[string]string
	students     map[string]*models.Student
	records      []*models.StudentVaccination

	failCreateFor string
	rolledBack    bool
	committed     bool
}

func newVaxStore() *vaxStore {
	return &vaxStore{
		drives:       map[string]*models.VaccinationDrive{},
		vaccineNames: map[string]string{},
		students:     map[string]*models.Student{},
	}
}

func (s *vaxStore) countByDrive(driveID string, pending []*models.StudentVaccination) int {
	count := 0
	for _, r := range append(append([]*models.StudentVaccination{}, s.records...), pending...) {
		if r.DriveID == driveID {
			count++
		}
	}
	return count
}

func (s *vaxStore) existsForVaccine(studentID, vaccineID, excludeID string, pending []*models.StudentVaccination) bool {
	for _, r := range append(append([]*models.StudentVaccination{}, s.records...), pending...) {
		if r.ID == excludeID && excludeID != "" {
			continue
		}
		drive, ok := s.drives[r.DriveID]
		if ok && r.StudentID == studentID && drive.VaccineID == vaccineID {
			return true
		}
	}
	return false
}

func (s *vaxStore) List(ctx context.Context, filter models.VaccinationFilter) ([]models.VaccinationDetail, int, error) {
	details := make([]models.VaccinationDetail, 0, len(s.records))
	for _, r := range s.records {
		details = append(details, models.VaccinationDetail{StudentVaccination: *r})
	}
	return details, len(details), nil
}

func (s *vaxStore) FindByID(ctx context.Context, id string) (*models.StudentVaccination, error) {
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *vaxStore) CountByDrive(ctx context.Context, driveID string) (int, error) {
	return s.countByDrive(driveID, nil), nil
}

func (s *vaxStore) ExistsForVaccine(ctx context.Context, studentID, vaccineID, excludeID string) (bool, error) {
	return s.existsForVaccine(studentID, vaccineID, excludeID, nil), nil
}

func (s *vaxStore) Create(ctx context.Context, v *models.StudentVaccination) error {
	if v.ID == "" {
		v.ID = "rec-" + v.StudentID
	}
	s.records = append(s.records, v)
	return nil
}

func (s *vaxStore) Update(ctx context.Context, v *models.StudentVaccination) error { return nil }

func (s *vaxStore) Delete(ctx context.Context, id string) error {
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *vaxStore) BeginBatch(ctx context.Context) (repository.VaccinationBatchTx, error) {
	return &vaxBatch{store: s}, nil
}

type vaxBatch struct {
	store   *vaxStore
	pending []*models.StudentVaccination
}

func (b *vaxBatch) LockDrive(ctx context.Context, driveID string) error {
	if _, ok := b.store.drives[driveID]; !ok {
		return sql.ErrNoRows
	}
	return nil
}

func (b *vaxBatch) CountByDrive(ctx context.Context, driveID string) (int, error) {
	return b.store.countByDrive(driveID, b.pending), nil
}

func (b *vaxBatch) ExistsForVaccine(ctx context.Context, studentID, vaccineID string) (bool, error) {
	return b.store.existsForVaccine(studentID, vaccineID, "", b.pending), nil
}

func (b *vaxBatch) Create(ctx context.Context, v *models.StudentVaccination) error {
	if b.store.failCreateFor == v.StudentID {
		return errors.New("unique constraint violation")
	}
	if v.ID == "" {
		v.ID = "rec-" + v.StudentID
	}
	b.pending = append(b.pending, v)
	return nil
}

func (b *vaxBatch) Commit() error {
	b.store.records = append(b.store.records, b.pending...)
	b.store.committed = true
	return nil
}

func (b *vaxBatch) Rollback() error {
	b.store.rolledBack = true
	b.pending = nil
	return nil
}

// Drive readers over the same store.
type vaxDriveReader struct{ store *vaxStore }

func (r vaxDriveReader) FindByID(ctx context.Context, id string) (*models.VaccinationDrive, error) {
	drive, ok := r.store.drives[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return drive, nil
}

func (r vaxDriveReader) FindDetailByID(ctx context.Context, id string) (*models.DriveDetail, error) {
	drive, ok := r.store.drives[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.DriveDetail{
		VaccinationDrive: *drive,
		VaccineName:      r.store.vaccineNames[id],
		DosesUsed:        r.store.countByDrive(id, nil),
	}, nil
}

type vaxStudentReader struct{ store *vaxStore }

func (r vaxStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := r.store.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func newVaxService(store *vaxStore) *VaccinationService {
	svc := NewVaccinationService(store, vaxDriveReader{store}, vaxStudentReader{store}, nil, nil, nil)
	return svc.WithClock(func() time.Time { return testToday })
}

func seedDrive(store *vaxStore, id, vaccineID, grades string, doses int) {
	store.drives[id] = &models.VaccinationDrive{
		ID:               id,
		VaccineID:        vaccineID,
		Date:             testToday.AddDate(0, 0, 20),
		DosesAvailable:   doses,
		ApplicableGrades: grades,
	}
	store.vaccineNames[id] = "Vaccine " + vaccineID
}

func seedStudent(store *vaxStore, id string, grade int) {
	store.students[id] = &models.Student{ID: id, StudentID: "EXT-" + id, FirstName: "Student", LastName: id, Grade: grade}
}

func TestMarkStudentsOrderedAllocation(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 2)
	seedStudent(store, "s1", 5)
	seedStudent(store, "s2", 7)
	seedStudent(store, "s3", 6)
	svc := newVaxService(store)

	result, err := svc.MarkStudents(context.Background(), "d1", []string{"s1", "s2", "s3"})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, BatchOutcome{StudentID: "s1", Status: OutcomeCreated}, result.Outcomes[0])
	assert.Equal(t, BatchOutcome{StudentID: "s2", Status: string(ReasonGradeNotApplicable)}, result.Outcomes[1])
	assert.Equal(t, BatchOutcome{StudentID: "s3", Status: OutcomeCreated}, result.Outcomes[2])
	assert.Equal(t, 2, result.CreatedCount)
	assert.Len(t, store.records, 2)
	assert.True(t, store.committed)
}

func TestMarkStudentsHaltsOnExhaustion(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 2)
	seedStudent(store, "s1", 5)
	seedStudent(store, "s2", 6)
	seedStudent(store, "s4", 5)
	seedStudent(store, "s5", 6)
	svc := newVaxService(store)

	_, err := svc.MarkStudents(context.Background(), "d1", []string{"s1", "s2"})
	require.NoError(t, err)

	// Drive is now at 2/2. A two-id batch must report exhaustion for the
	// first id and never process the second.
	result, err := svc.MarkStudents(context.Background(), "d1", []string{"s4", "s5"})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, BatchOutcome{StudentID: "s4", Status: string(ReasonNoDosesRemaining)}, result.Outcomes[0])
	assert.Zero(t, result.CreatedCount)
	assert.Len(t, store.records, 2)
}

func TestMarkStudentsCapacityCountsOwnWrites(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 2)
	seedStudent(store, "s1", 5)
	seedStudent(store, "s2", 6)
	seedStudent(store, "s3", 5)
	svc := newVaxService(store)

	result, err := svc.MarkStudents(context.Background(), "d1", []string{"s1", "s2", "s3"})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, string(ReasonNoDosesRemaining), result.Outcomes[2].Status)
	assert.Equal(t, 2, result.CreatedCount)
	assert.Len(t, store.records, 2)
}

func TestMarkStudentsAlreadyVaccinatedAcrossDrives(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 10)
	seedDrive(store, "d2", "v1", "5-6", 10)
	seedStudent(store, "s1", 5)
	svc := newVaxService(store)

	_, err := svc.MarkStudents(context.Background(), "d1", []string{"s1"})
	require.NoError(t, err)

	result, err := svc.MarkStudents(context.Background(), "d2", []string{"s1"})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, string(ReasonAlreadyVaccinated), result.Outcomes[0].Status)
	assert.Zero(t, result.CreatedCount)
}

func TestMarkStudentsUnknownIDContinues(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 10)
	seedStudent(store, "s2", 6)
	svc := newVaxService(store)

	result, err := svc.MarkStudents(context.Background(), "d1", []string{"ghost", "s2"})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, OutcomeNotFound, result.Outcomes[0].Status)
	assert.Equal(t, OutcomeCreated, result.Outcomes[1].Status)
	assert.Equal(t, 1, result.CreatedCount)
}

func TestMarkStudentsPastDriveRejected(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 10)
	store.drives["d1"].Date = testToday.AddDate(0, 0, -1)
	seedStudent(store, "s1", 5)
	svc := newVaxService(store)

	_, err := svc.MarkStudents(context.Background(), "d1", []string{"s1"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrDrivePast.Code, appErr.Code)
	assert.False(t, store.committed)
}

func TestMarkStudentsStoreFailureRollsBack(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 10)
	seedStudent(store, "s1", 5)
	seedStudent(store, "s2", 6)
	store.failCreateFor = "s2"
	svc := newVaxService(store)

	_, err := svc.MarkStudents(context.Background(), "d1", []string{"s1", "s2"})
	require.Error(t, err)
	assert.True(t, store.rolledBack)
	assert.False(t, store.committed)
	assert.Empty(t, store.records)
}

func TestCheckEligibilityReportVerdicts(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 10)
	seedDrive(store, "d0", "v1", "5-6", 10)
	seedStudent(store, "s1", 5)
	seedStudent(store, "s2", 9)
	seedStudent(store, "s3", 6)
	svc := newVaxService(store)

	// s3 got the same vaccine on another drive.
	_, err := svc.MarkStudents(context.Background(), "d0", []string{"s3"})
	require.NoError(t, err)

	report, err := svc.CheckEligibilityReport(context.Background(), "d1", []string{"s1", "s2", "s3", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "d1", report.DriveID)
	assert.Equal(t, "Vaccine v1", report.VaccineName)
	assert.Equal(t, 10, report.RemainingDoses)
	require.Len(t, report.Students, 4)
	assert.Equal(t, OutcomeEligible, report.Students[0].Status)
	assert.Equal(t, string(ReasonGradeNotApplicable), report.Students[1].Status)
	assert.Equal(t, string(ReasonAlreadyVaccinated), report.Students[2].Status)
	assert.Equal(t, OutcomeNotFound, report.Students[3].Status)
	assert.Len(t, store.records, 1) // no writes from the report

	// Idempotent without intervening writes.
	again, err := svc.CheckEligibilityReport(context.Background(), "d1", []string{"s1", "s2", "s3", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, report, again)
}

func TestCheckEligibilityReportNoCapacity(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 1)
	seedStudent(store, "s1", 5)
	svc := newVaxService(store)

	_, err := svc.MarkStudents(context.Background(), "d1", []string{"s1"})
	require.NoError(t, err)

	_, err = svc.CheckEligibilityReport(context.Background(), "d1", []string{"s1"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNoDosesRemaining.Code, appErr.Code)
}

func TestCheckEligibilityReportInsufficientCapacity(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 5)
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		seedStudent(store, id, 5)
	}
	svc := newVaxService(store)

	_, err := svc.MarkStudents(context.Background(), "d1", []string{"s1", "s2", "s3", "s4"})
	require.NoError(t, err)

	// 4 of 5 doses used, 3 requested: wholesale failure, no per-student rows.
	_, err = svc.CheckEligibilityReport(context.Background(), "d1", []string{"s5", "s6", "s7"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInsufficientDoses.Code, appErr.Code)
	assert.Equal(t, "1", appErr.Fields["remaining_doses"])
	assert.Equal(t, "3", appErr.Fields["requested"])
}

func TestCreateVaccinationRunsEligibility(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 1)
	seedStudent(store, "s1", 5)
	seedStudent(store, "s2", 6)
	svc := newVaxService(store)

	record, err := svc.Create(context.Background(), CreateVaccinationRequest{StudentID: "s1", DriveID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, testToday.UTC(), record.DateAdministered)

	// Capacity is now exhausted.
	_, err = svc.Create(context.Background(), CreateVaccinationRequest{StudentID: "s2", DriveID: "d1"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNoDosesRemaining.Code, appErr.Code)

	// Same student, second drive of same vaccine.
	seedDrive(store, "d2", "v1", "5-6", 5)
	_, err = svc.Create(context.Background(), CreateVaccinationRequest{StudentID: "s1", DriveID: "d2"})
	require.Error(t, err)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestUpdateVaccinationPastDriveRejected(t *testing.T) {
	store := newVaxStore()
	seedDrive(store, "d1", "v1", "5-6", 5)
	seedStudent(store, "s1", 5)
	svc := newVaxService(store)

	record, err := svc.Create(context.Background(), CreateVaccinationRequest{StudentID: "s1", DriveID: "d1"})
	require.NoError(t, err)

	store.drives["d1"].Date = testToday.AddDate(0, 0, -5)
	_, err = svc.Update(context.Background(), record.ID, UpdateVaccinationRequest{Notes: "booster"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrDrivePast.Code, appErr.Code)
}
