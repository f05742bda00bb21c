package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/errors"
)

const exportSheet = "Consultations"

var exportHeader = []string{"Date", "Patient ID", "Patient", "Duration (min)", "Status", "Transcript", "Summary", "Error"}

// Stats computes the dashboard numbers for a doctor
func (s *Service) Stats(ctx context.Context, doctorID uuid.UUID) (*model.ConsultationStats, error) {
	list, err := s.List(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return ComputeStats(list, s.now()), nil
}

// ComputeStats counts the month of now in now's location
func ComputeStats(list []*model.Consultation, now time.Time) *model.ConsultationStats {
	stats := &model.ConsultationStats{Total: len(list)}
	seconds := 0
	for _, c := range list {
		date := c.Date.In(now.Location())
		if date.Year() == now.Year() && date.Month() == now.Month() {
			stats.ThisMonth++
		}
		if c.Duration != nil {
			seconds += *c.Duration
		}
		switch c.Status {
		case model.StatusPending, model.StatusProcessing:
			stats.PendingTranscriptions++
		case model.StatusCompleted:
			stats.Completed++
		case model.StatusFailed:
			stats.Failed++
		}
	}
	stats.TotalMinutes = (seconds + 30) / 60
	return stats
}

type transcriptDoc struct {
	Text    string `json:"text"`
	Summary string `json:"summary"`
}

// Export renders the doctor's consultations as an xlsx workbook
func (s *Service) Export(ctx context.Context, doctorID uuid.UUID) ([]byte, error) {
	list, err := s.List(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	patients := make(map[uuid.UUID]*model.Patient)
	for _, c := range list {
		if _, ok := patients[c.PatientID]; ok {
			continue
		}
		p, err := s.patients.Get(ctx, c.PatientID)
		if err != nil {
			s.logger.Warn("patient missing from export", "patient_id", c.PatientID.String())
			patients[c.PatientID] = nil
			continue
		}
		patients[c.PatientID] = p
	}

	data, err := buildWorkbook(list, patients)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return data, nil
}

func buildWorkbook(list []*model.Consultation, patients map[uuid.UUID]*model.Patient) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range exportHeader {
		if err := setCell(f, col+1, 1, header); err != nil {
			return nil, err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(exportHeader), 1)
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(exportSheet, "F", "G", 60); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, c := range list {
		row := i + 2
		var doc transcriptDoc
		if c.Transcription.Valid() {
			_ = json.Unmarshal(c.Transcription, &doc)
		}

		values := []interface{}{
			c.Date.Format("2006-01-02 15:04"),
			"",
			"",
			"",
			string(c.Status),
			doc.Text,
			doc.Summary,
			"",
		}
		if p := patients[c.PatientID]; p != nil {
			values[1] = p.PatientID
			values[2] = p.FirstName + " " + p.LastName
		}
		if c.Duration != nil {
			values[3] = (*c.Duration + 30) / 60
		}
		if c.Error != nil {
			values[7] = *c.Error
		}

		for col, v := range values {
			if v == "" {
				continue
			}
			if err := setCell(f, col+1, row, v); err != nil {
				return nil, err
			}
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(exportSheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}
