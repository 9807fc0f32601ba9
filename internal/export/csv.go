package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

// utf8BOM lets spreadsheet applications detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type CSVSink struct {
	outputDir string
	now       func() time.Time
}

func NewCSVSink(outputDir string) *CSVSink {
	return &CSVSink{outputDir: outputDir, now: time.Now}
}

func (s *CSVSink) Render(_ context.Context, channelID string, messages []models.Message) (Result, error) {
	if len(messages) == 0 {
		return Result{}, nil
	}
	if err := prepareDir(s.outputDir); err != nil {
		return Result{}, err
	}

	path := outputPath(s.outputDir, channelID, messages, s.now(), "csv")
	f, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create csv file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(utf8BOM); err != nil {
		return Result{}, fmt.Errorf("failed to write csv file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return Result{}, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, msg := range messages {
		if err := w.Write(record(msg, time.RFC3339)); err != nil {
			return Result{}, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Result{}, fmt.Errorf("failed to flush csv file: %w", err)
	}

	return Result{Location: path, Rows: len(messages)}, nil
}
