package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/school-vax/portal-api/internal/models"
	"github.com/school-vax/portal-api/pkg/export"
	"github.com/school-vax/portal-api/pkg/storage"
)

type reportReader interface {
	DashboardStats(ctx context.Context, today time.Time) (*models.DashboardStats, error)
	VaccinationReport(ctx context.Context, filter models.VaccinationReportFilter) ([]models.VaccinationReportRow, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService builds vaccination report datasets and persists rendered
// files behind signed download tokens.
type ExportService struct {
	reports reportReader
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(reports reportReader, fileStore fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		reports: reports,
		storage: fileStore,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset for the job's filters and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildVaccinationDataset(ctx, job.Params)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("vaccination_report_%s.%s", time.Now().UTC().Format("20060102_150405"), job.Params.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/reports/download/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// RenderInlineCSV renders the vaccination report for synchronous download.
func (s *ExportService) RenderInlineCSV(ctx context.Context, filter models.VaccinationReportFilter) ([]byte, error) {
	rows, err := s.reports.VaccinationReport(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.csv.Render(vaccinationDataset(rows))
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildVaccinationDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	filter := models.VaccinationReportFilter{VaccineID: params.VaccineID, Grade: params.Grade}
	if params.StartDate != "" {
		start, err := time.Parse("2006-01-02", params.StartDate)
		if err != nil {
			return export.Dataset{}, "", fmt.Errorf("invalid start date %q", params.StartDate)
		}
		filter.StartDate = &start
	}
	if params.EndDate != "" {
		end, err := time.Parse("2006-01-02", params.EndDate)
		if err != nil {
			return export.Dataset{}, "", fmt.Errorf("invalid end date %q", params.EndDate)
		}
		filter.EndDate = &end
	}

	rows, err := s.reports.VaccinationReport(ctx, filter)
	if err != nil {
		return export.Dataset{}, "", err
	}
	return vaccinationDataset(rows), "Vaccination Report", nil
}

func vaccinationDataset(rows []models.VaccinationReportRow) export.Dataset {
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Student ID":        row.StudentExternal,
			"Student Name":      row.StudentName,
			"Grade":             fmt.Sprintf("%d", row.Grade),
			"Section":           row.Section,
			"Vaccine":           row.VaccineName,
			"Date Administered": row.DateAdministered.Format("2006-01-02"),
			"Notes":             row.Notes,
		})
	}
	return export.Dataset{
		Headers: []string{"Student ID", "Student Name", "Grade", "Section", "Vaccine", "Date Administered", "Notes"},
		Rows:    dataRows,
	}
}
