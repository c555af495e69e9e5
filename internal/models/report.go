package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DashboardStats aggregates headline numbers for the coordinator dashboard.
type DashboardStats struct {
	TotalStudents         int     `db:"total_students" json:"total_students"`
	VaccinatedStudents    int     `db:"vaccinated_students" json:"vaccinated_students"`
	VaccinationPercentage float64 `json:"vaccination_percentage"`
	UpcomingDrives        int     `db:"upcoming_drives" json:"upcoming_drives"`
}

// VaccinationReportFilter narrows the vaccination report.
type VaccinationReportFilter struct {
	VaccineID string
	Grade     *int
	StartDate *time.Time
	EndDate   *time.Time
}

// VaccinationReportRow is one line of the vaccination report.
type VaccinationReportRow struct {
	ID               string    `db:"id" json:"id"`
	StudentExternal  string    `db:"student_external_id" json:"student_id"`
	StudentName      string    `db:"student_name" json:"student_name"`
	Grade            int       `db:"grade" json:"grade"`
	Section          string    `db:"section" json:"section"`
	VaccineName      string    `db:"vaccine_name" json:"vaccine_name"`
	DateAdministered time.Time `db:"date_administered" json:"date_administered"`
	Notes            string    `db:"notes" json:"notes"`
}

// ExportFormat enumerates supported export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportStatus captures background export job lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJob is persisted background export job metadata.
type ExportJob struct {
	ID           string          `db:"id" json:"id"`
	Params       ExportJobParams `db:"params" json:"params"`
	Status       ExportStatus    `db:"status" json:"status"`
	Progress     int             `db:"progress" json:"progress"`
	ResultURL    *string         `db:"result_url" json:"result_url,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
}

// ExportJobParams stores request-scoped report options persisted as JSONB.
type ExportJobParams struct {
	Format    ExportFormat `json:"format"`
	VaccineID string       `json:"vaccineId,omitempty"`
	Grade     *int         `json:"grade,omitempty"`
	StartDate string       `json:"startDate,omitempty"`
	EndDate   string       `json:"endDate,omitempty"`
}

// Value marshals params to JSON for persistence.
func (p ExportJobParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal export job params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *ExportJobParams) Scan(value interface{}) error {
	if value == nil {
		*p = ExportJobParams{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ExportJobParams", value)
	}
	if len(data) == 0 {
		*p = ExportJobParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal export job params: %w", err)
	}
	return nil
}
