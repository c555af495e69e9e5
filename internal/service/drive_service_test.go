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
	appErrors "github.com/school-vax/portal-api/pkg/errors"
)

type driveStore struct {
	drives   map[string]*models.VaccinationDrive
	vaccines map[string]*models.Vaccine
}

func newDriveStore() *driveStore {
	return &driveStore{
		drives:   map[string]*models.VaccinationDrive{},
		vaccines: map[string]*models.Vaccine{},
	}
}

func (s *driveStore) List(ctx context.Context, filter models.DriveFilter, today time.Time) ([]models.DriveDetail, int, error) {
	var details []models.DriveDetail
	for _, d := range s.drives {
		if filter.Upcoming && d.Date.Before(today) {
			continue
		}
		details = append(details, models.DriveDetail{VaccinationDrive: *d, VaccineName: s.vaccines[d.VaccineID].Name})
	}
	return details, len(details), nil
}

func (s *driveStore) FindByID(ctx context.Context, id string) (*models.VaccinationDrive, error) {
	drive, ok := s.drives[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *drive
	return &copied, nil
}

func (s *driveStore) FindDetailByID(ctx context.Context, id string) (*models.DriveDetail, error) {
	drive, ok := s.drives[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.DriveDetail{VaccinationDrive: *drive, VaccineName: s.vaccines[drive.VaccineID].Name}, nil
}

func (s *driveStore) ListByVaccine(ctx context.Context, vaccineID string, excludeID string) ([]models.VaccinationDrive, error) {
	var drives []models.VaccinationDrive
	for _, d := range s.drives {
		if d.VaccineID == vaccineID && d.ID != excludeID {
			drives = append(drives, *d)
		}
	}
	return drives, nil
}

func (s *driveStore) Create(ctx context.Context, drive *models.VaccinationDrive) error {
	if drive.ID == "" {
		drive.ID = "d-" + drive.VaccineID + drive.Date.Format("20060102")
	}
	s.drives[drive.ID] = drive
	return nil
}

func (s *driveStore) Update(ctx context.Context, drive *models.VaccinationDrive) error {
	s.drives[drive.ID] = drive
	return nil
}

func (s *driveStore) Delete(ctx context.Context, id string) error {
	delete(s.drives, id)
	return nil
}

type driveVaccines struct{ store *driveStore }

func (r driveVaccines) FindByID(ctx context.Context, id string) (*models.Vaccine, error) {
	vaccine, ok := r.store.vaccines[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return vaccine, nil
}

func newDriveService(store *driveStore) *DriveService {
	store.vaccines["v1"] = &models.Vaccine{ID: "v1", Name: "Polio"}
	svc := NewDriveService(store, driveVaccines{store}, 15, nil, nil)
	return svc.WithClock(func() time.Time { return testToday })
}

func TestDriveServiceCreateAcceptsBoundaryDate(t *testing.T) {
	store := newDriveStore()
	svc := newDriveService(store)

	detail, err := svc.Create(context.Background(), CreateDriveRequest{
		VaccineID:        "v1",
		Date:             testToday.AddDate(0, 0, 15),
		DosesAvailable:   20,
		ApplicableGrades: "5-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "Polio", detail.VaccineName)
	assert.False(t, detail.Past)
}

func TestDriveServiceCreateRejectsShortLeadTime(t *testing.T) {
	store := newDriveStore()
	svc := newDriveService(store)

	_, err := svc.Create(context.Background(), CreateDriveRequest{
		VaccineID:        "v1",
		Date:             testToday.AddDate(0, 0, 14),
		DosesAvailable:   20,
		ApplicableGrades: "5-7",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Fields, "date")
	assert.Empty(t, store.drives)
}

func TestDriveServiceCreateRejectsDuplicateDate(t *testing.T) {
	store := newDriveStore()
	svc := newDriveService(store)

	date := testToday.AddDate(0, 0, 20)
	_, err := svc.Create(context.Background(), CreateDriveRequest{
		VaccineID: "v1", Date: date, DosesAvailable: 20, ApplicableGrades: "5",
	})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateDriveRequest{
		VaccineID: "v1", Date: date, DosesAvailable: 10, ApplicableGrades: "6",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields["date"], "already exists")
}

func TestDriveServiceUpdateExcludesSelfFromDuplicateCheck(t *testing.T) {
	store := newDriveStore()
	svc := newDriveService(store)

	date := testToday.AddDate(0, 0, 20)
	detail, err := svc.Create(context.Background(), CreateDriveRequest{
		VaccineID: "v1", Date: date, DosesAvailable: 20, ApplicableGrades: "5",
	})
	require.NoError(t, err)

	// Re-saving with its own date must not trip the duplicate check.
	updated, err := svc.Update(context.Background(), detail.ID, UpdateDriveRequest{
		VaccineID: "v1", Date: date, DosesAvailable: 30, ApplicableGrades: "5-6",
	})
	require.NoError(t, err)
	assert.Equal(t, 30, updated.DosesAvailable)
}

func TestDriveServiceUpdatePastDriveRejectedBeforeValidation(t *testing.T) {
	store := newDriveStore()
	svc := newDriveService(store)
	store.vaccines["v1"] = &models.Vaccine{ID: "v1", Name: "Polio"}
	store.drives["d1"] = &models.VaccinationDrive{
		ID: "d1", VaccineID: "v1", Date: testToday.AddDate(0, 0, -1),
		DosesAvailable: 20, ApplicableGrades: "5",
	}

	// Payload is also invalid; the past-drive rejection must win.
	_, err := svc.Update(context.Background(), "d1", UpdateDriveRequest{})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrDrivePast.Code, appErr.Code)
}

func TestDriveServiceCreateUnknownVaccine(t *testing.T) {
	store := newDriveStore()
	svc := newDriveService(store)

	_, err := svc.Create(context.Background(), CreateDriveRequest{
		VaccineID: "ghost", Date: testToday.AddDate(0, 0, 20), DosesAvailable: 20, ApplicableGrades: "5",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
