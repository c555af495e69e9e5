package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-vax/portal-api/internal/models"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
)

type studentStore struct {
	students []*models.Student
	history  map[string][]models.ReceivedVaccine
}

func newStudentStore() *studentStore {
	return &studentStore{history: map[string][]models.ReceivedVaccine{}}
}

func (s *studentStore) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	out := make([]models.Student, len(s.students))
	for i, st := range s.students {
		out[i] = *st
	}
	return out, len(out), nil
}

func (s *studentStore) ListAll(ctx context.Context) ([]models.Student, error) {
	out, _, _ := s.List(ctx, models.StudentFilter{})
	return out, nil
}

func (s *studentStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	for _, st := range s.students {
		if st.ID == id {
			return st, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *studentStore) ExistsByStudentID(ctx context.Context, studentID string, excludeID string) (bool, error) {
	for _, st := range s.students {
		if st.StudentID == studentID && st.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *studentStore) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = "id-" + student.StudentID
	}
	s.students = append(s.students, student)
	return nil
}

func (s *studentStore) Update(ctx context.Context, student *models.Student) error { return nil }

func (s *studentStore) Delete(ctx context.Context, id string) error {
	for i, st := range s.students {
		if st.ID == id {
			s.students = append(s.students[:i], s.students[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *studentStore) HistoryByStudents(ctx context.Context, ids []string) (map[string][]models.ReceivedVaccine, error) {
	out := map[string][]models.ReceivedVaccine{}
	for _, id := range ids {
		if received, ok := s.history[id]; ok {
			out[id] = received
		}
	}
	return out, nil
}

func newStudentService(store *studentStore) *StudentService {
	return NewStudentService(store, store, nil, nil, nil)
}

func TestStudentServiceCreateRejectsDuplicateID(t *testing.T) {
	store := newStudentStore()
	svc := newStudentService(store)

	req := CreateStudentRequest{StudentID: "STU-1", FirstName: "Asha", LastName: "Rao", DateOfBirth: time.Now(), Grade: 5}
	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), req)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestStudentServiceGetEmbedsVaccinationStatus(t *testing.T) {
	store := newStudentStore()
	svc := newStudentService(store)

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		StudentID: "STU-1", FirstName: "Asha", LastName: "Rao", DateOfBirth: time.Now(), Grade: 5,
	})
	require.NoError(t, err)
	store.history[student.ID] = []models.ReceivedVaccine{
		{VaccinationID: "rec1", VaccineName: "Polio", DateAdministered: time.Now()},
	}

	detail, err := svc.Get(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, "vaccinated", detail.VaccinationStatus.Status)
	assert.Equal(t, 1, detail.VaccinationStatus.Count)

	store.history = map[string][]models.ReceivedVaccine{}
	detail, err = svc.Get(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, "not_vaccinated", detail.VaccinationStatus.Status)
	assert.NotNil(t, detail.VaccinationStatus.Vaccines)
}

func TestStudentServiceBulkImport(t *testing.T) {
	store := newStudentStore()
	svc := newStudentService(store)
	store.students = append(store.students, &models.Student{ID: "x", StudentID: "STU-3"})

	csvData := strings.Join([]string{
		"first_name,last_name,student_id,date_of_birth,grade,section",
		"Asha,Rao,STU-1,2014-03-21,5,A",
		"Ravi,Iyer,STU-2,not-a-date,6,B",
		"Maya,Nair,STU-3,2013-11-02,7,A",
		"Dev,Menon,STU-4,2014-07-15,zero,B",
		"Lena,Das,STU-5,2013-01-30,6,C",
	}, "\n")

	result, err := svc.BulkImport(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 2, result.ImportedCount)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "Row 3")
	assert.Contains(t, result.Errors[0], "date_of_birth")
	assert.Contains(t, result.Errors[1], "Row 4")
	assert.Contains(t, result.Errors[1], "already exists")
	assert.Contains(t, result.Errors[2], "Row 5")
	assert.Contains(t, result.Errors[2], "grade")
}

func TestStudentServiceBulkImportMissingColumn(t *testing.T) {
	store := newStudentStore()
	svc := newStudentService(store)

	_, err := svc.BulkImport(context.Background(), strings.NewReader("first_name,last_name\nA,B"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "student_id")
}

func TestStudentServiceBulkImportAllRowsFail(t *testing.T) {
	store := newStudentStore()
	svc := newStudentService(store)

	csvData := "first_name,last_name,student_id,date_of_birth,grade,section\nAsha,Rao,STU-1,bad,5,A"
	result, err := svc.BulkImport(context.Background(), strings.NewReader(csvData))
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Zero(t, result.ImportedCount)
	assert.Len(t, result.Errors, 1)
	assert.Empty(t, store.students)
}

func TestStudentServiceExportIncludesVaccinationColumns(t *testing.T) {
	store := newStudentStore()
	svc := newStudentService(store)

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		StudentID: "STU-1", FirstName: "Asha", LastName: "Rao",
		DateOfBirth: time.Date(2014, 3, 21, 0, 0, 0, 0, time.UTC), Grade: 5, Section: "A",
	})
	require.NoError(t, err)
	store.history[student.ID] = []models.ReceivedVaccine{
		{VaccinationID: "rec1", VaccineName: "Polio", DateAdministered: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)},
	}

	dataset, err := svc.Export(context.Background(), true)
	require.NoError(t, err)
	assert.Contains(t, dataset.Headers, "vaccination_status")
	require.Len(t, dataset.Rows, 1)
	assert.Equal(t, "vaccinated", dataset.Rows[0]["vaccination_status"])
	assert.Equal(t, "Polio (2025-05-01)", dataset.Rows[0]["vaccines_received"])
	assert.Equal(t, "2014-03-21", dataset.Rows[0]["date_of_birth"])
}

func TestStudentServiceTemplate(t *testing.T) {
	svc := newStudentService(newStudentStore())
	dataset := svc.Template()
	assert.Equal(t, importColumns, dataset.Headers)
	require.Len(t, dataset.Rows, 1)
	assert.Equal(t, "STU-1001", dataset.Rows[0]["student_id"])
}
