package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/internal/repository"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
	"github.com/school-vax/portal-api/pkg/jobs"
)

type reportStore struct {
	stats       *models.DashboardStats
	rows        []models.VaccinationReportRow
	statsCalls  int
	statsToday  time.Time
	reportCalls int
}

func (r *reportStore) DashboardStats(ctx context.Context, today time.Time) (*models.DashboardStats, error) {
	r.statsCalls++
	r.statsToday = today
	return r.stats, nil
}

func (r *reportStore) VaccinationReport(ctx context.Context, filter models.VaccinationReportFilter) ([]models.VaccinationReportRow, error) {
	r.reportCalls++
	return r.rows, nil
}

type jobStore struct {
	jobs    map[string]*models.ExportJob
	updates []repository.UpdateExportJobParams
	queued  []models.ExportJob
}

func newJobStore() *jobStore {
	return &jobStore{jobs: map[string]*models.ExportJob{}}
}

func (s *jobStore) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = "job-1"
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *jobStore) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (s *jobStore) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	s.updates = append(s.updates, params)
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	return nil
}

func (s *jobStore) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	return s.queued, nil
}

func (s *jobStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	return nil, nil
}

type fakeDispatcher struct {
	enqueued []jobs.Job
	err      error
}

func (d *fakeDispatcher) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.enqueued = append(d.enqueued, job)
	return nil
}

type memoryCache struct {
	stats *models.DashboardStats
	sets  int
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c.stats == nil {
		return false, nil
	}
	*(dest.(*models.DashboardStats)) = *c.stats
	return true, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.sets++
	if stats, ok := value.(*models.DashboardStats); ok {
		copied := *stats
		c.stats = &copied
	}
	return nil
}

type fakeGenerator struct {
	result *ExportResult
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func TestDashboardStatsCachesResult(t *testing.T) {
	reports := &reportStore{stats: &models.DashboardStats{TotalStudents: 40, VaccinatedStudents: 10, VaccinationPercentage: 25, UpcomingDrives: 2}}
	cache := &memoryCache{}
	svc := NewReportService(reports, newJobStore(), &fakeDispatcher{}, nil, cache, nil, ReportServiceConfig{CacheTTL: time.Minute}).
		WithClock(func() time.Time { return testToday })

	first, err := svc.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, first.TotalStudents)
	assert.Equal(t, testToday, reports.statsToday)
	assert.Equal(t, 1, cache.sets)

	second, err := svc.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, reports.statsCalls)
}

func TestCreateExportJobEnqueues(t *testing.T) {
	store := newJobStore()
	dispatcher := &fakeDispatcher{}
	svc := NewReportService(&reportStore{}, store, dispatcher, nil, nil, nil, ReportServiceConfig{})

	resp, err := svc.CreateExportJob(context.Background(), ExportRequest{Format: "csv", StartDate: "2025-05-01"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	require.Len(t, dispatcher.enqueued, 1)
	assert.Equal(t, resp.ID, dispatcher.enqueued[0].ID)

	saved, err := store.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportFormatCSV, saved.Params.Format)
	assert.Equal(t, "admin-1", saved.CreatedBy)
}

func TestCreateExportJobRejectsBadInput(t *testing.T) {
	svc := NewReportService(&reportStore{}, newJobStore(), &fakeDispatcher{}, nil, nil, nil, ReportServiceConfig{})

	_, err := svc.CreateExportJob(context.Background(), ExportRequest{Format: "xlsx"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateExportJob(context.Background(), ExportRequest{Format: "csv", StartDate: "01/05/2025"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateExportJobMarksFailedWhenEnqueueFails(t *testing.T) {
	store := newJobStore()
	svc := NewReportService(&reportStore{}, store, &fakeDispatcher{err: assert.AnError}, nil, nil, nil, ReportServiceConfig{})

	_, err := svc.CreateExportJob(context.Background(), ExportRequest{Format: "pdf"}, "admin-1")
	require.Error(t, err)

	saved, err := store.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, saved.Status)
	require.NotNil(t, saved.ErrorMessage)
}

func TestGetExportStatusNotFound(t *testing.T) {
	svc := NewReportService(&reportStore{}, newJobStore(), &fakeDispatcher{}, nil, nil, nil, ReportServiceConfig{})

	_, err := svc.GetExportStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRecoverPendingJobsRequeues(t *testing.T) {
	store := newJobStore()
	store.queued = []models.ExportJob{{ID: "a"}, {ID: "b"}}
	dispatcher := &fakeDispatcher{}
	svc := NewReportService(&reportStore{}, store, dispatcher, nil, nil, nil, ReportServiceConfig{})

	svc.RecoverPendingJobs(context.Background())
	assert.Len(t, dispatcher.enqueued, 2)
}

func TestExportWorkerFinishesJob(t *testing.T) {
	store := newJobStore()
	store.jobs["job-1"] = &models.ExportJob{ID: "job-1", Status: models.ExportStatusQueued, Params: models.ExportJobParams{Format: models.ExportFormatCSV}}
	generator := &fakeGenerator{result: &ExportResult{URL: "/api/v1/reports/download/tok", Format: models.ExportFormatCSV}}
	worker := NewExportWorker(store, generator, nil, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.NoError(t, err)

	saved, err := store.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, saved.Status)
	assert.Equal(t, 100, saved.Progress)
	require.NotNil(t, saved.ResultURL)
	assert.Equal(t, "/api/v1/reports/download/tok", *saved.ResultURL)
}

func TestExportWorkerRequeuesThenFails(t *testing.T) {
	store := newJobStore()
	store.jobs["job-1"] = &models.ExportJob{ID: "job-1", Status: models.ExportStatusQueued}
	generator := &fakeGenerator{err: assert.AnError}
	worker := NewExportWorker(store, generator, nil, 2, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.Error(t, err)
	saved, _ := store.GetByID(context.Background(), "job-1")
	assert.Equal(t, models.ExportStatusQueued, saved.Status)
	assert.Equal(t, 0, saved.Progress)

	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	saved, _ = store.GetByID(context.Background(), "job-1")
	assert.Equal(t, models.ExportStatusFailed, saved.Status)
	assert.Equal(t, 100, saved.Progress)
	require.NotNil(t, saved.ErrorMessage)
	assert.Equal(t, 2, generator.calls)
}
