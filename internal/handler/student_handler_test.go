package handler

import (
	"bytes"
	"context"
	"database/sql"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/internal/service"
)

type studentRepoMock struct {
	students map[string]*models.Student
}

func newStudentRepoMock() *studentRepoMock {
	return &studentRepoMock{students: map[string]*models.Student{}}
}

func (m *studentRepoMock) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *studentRepoMock) ListAll(ctx context.Context) ([]models.Student, error) {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, *s)
	}
	return out, nil
}

func (m *studentRepoMock) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (m *studentRepoMock) ExistsByStudentID(ctx context.Context, studentID, excludeID string) (bool, error) {
	for _, s := range m.students {
		if s.StudentID == studentID && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *studentRepoMock) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = student.StudentID
	}
	copied := *student
	m.students[student.ID] = &copied
	return nil
}

func (m *studentRepoMock) Update(ctx context.Context, student *models.Student) error {
	copied := *student
	m.students[student.ID] = &copied
	return nil
}

func (m *studentRepoMock) Delete(ctx context.Context, id string) error {
	delete(m.students, id)
	return nil
}

func (m *studentRepoMock) HistoryByStudents(ctx context.Context, studentIDs []string) (map[string][]models.ReceivedVaccine, error) {
	return map[string][]models.ReceivedVaccine{}, nil
}

func multipartCSV(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func newStudentHandler(repo *studentRepoMock) *StudentHandler {
	return NewStudentHandler(service.NewStudentService(repo, repo, nil, nil, nil))
}

func TestStudentHandlerBulkImport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := newStudentRepoMock()
	handler := newStudentHandler(repo)

	csv := "first_name,last_name,student_id,date_of_birth,grade,section\n" +
		"Asha,Rao,STU-1,2014-02-10,5,A\n" +
		"Vik,Shah,STU-2,not-a-date,5,A\n"
	body, contentType := multipartCSV(t, "file", "students.csv", csv)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/students/bulk_import", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req

	handler.BulkImport(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"imported_count":1`)
	assert.Contains(t, w.Body.String(), "Row 3")
	assert.Len(t, repo.students, 1)
}

func TestStudentHandlerBulkImportRequiresFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newStudentHandler(newStudentRepoMock())

	c, w := newGinContext(http.MethodPost, "/students/bulk_import", nil)
	handler.BulkImport(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentHandlerTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newStudentHandler(newStudentRepoMock())

	c, w := newGinContext(http.MethodGet, "/students/template", nil)
	handler.Template(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "students_template.csv")
	assert.Contains(t, w.Body.String(), "first_name,last_name,student_id,date_of_birth,grade,section")
}
