package export

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Message log"

var columnWidths = map[string]float64{
	"A": 15, // message_id
	"B": 20, // channel_name
	"C": 15, // display_name
	"D": 15, // username
	"E": 10, // user_type
	"F": 20, // roles
	"G": 50, // content
	"H": 20, // timestamp
	"I": 10, // is_question
	"J": 15, // reactions
	"K": 15, // thread_id
}

type XLSXSink struct {
	outputDir string
	now       func() time.Time
}

func NewXLSXSink(outputDir string) *XLSXSink {
	return &XLSXSink{outputDir: outputDir, now: time.Now}
}

func (s *XLSXSink) Render(_ context.Context, channelID string, messages []models.Message) (Result, error) {
	if len(messages) == 0 {
		return Result{}, nil
	}
	if err := prepareDir(s.outputDir); err != nil {
		return Result{}, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return Result{}, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return Result{}, fmt.Errorf("failed to write header: %w", err)
	}

	for i, msg := range messages {
		fields := record(msg, "2006-01-02 15:04:05")
		row := make([]interface{}, len(fields))
		for j, v := range fields {
			row[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return Result{}, err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return Result{}, fmt.Errorf("failed to write row: %w", err)
		}
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", "K1", style); err != nil {
		return Result{}, fmt.Errorf("failed to style header: %w", err)
	}
	for col, width := range columnWidths {
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return Result{}, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	path := outputPath(s.outputDir, channelID, messages, s.now(), "xlsx")
	if err := f.SaveAs(path); err != nil {
		return Result{}, fmt.Errorf("failed to save spreadsheet: %w", err)
	}

	return Result{Location: path, Rows: len(messages)}, nil
}
