package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xaenox/lesson-monitor/internal/models"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var exportTime = time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)

func sampleMessages() []models.Message {
	return []models.Message{
		{
			ID:          "m2",
			ChannelName: "lesson-3",
			User:        models.User{ID: "u2", Username: "bob", DisplayName: "Bob", Roles: []models.UserRole{models.RoleMentor}},
			Content:     "Check line 4",
			Timestamp:   exportTime.Add(-time.Hour),
		},
		{
			ID:          "m1",
			ChannelName: "lesson-3",
			User:        models.User{ID: "u1", Username: "alice", DisplayName: "Alice", Roles: []models.UserRole{models.RoleStudent}},
			Content:     "How do I fix this error?",
			Timestamp:   exportTime.Add(-2 * time.Hour),
			Reactions:   []string{"👍", "👀"},
			IsQuestion:  true,
			ThreadID:    "t1",
		},
	}
}

func fixedNow() time.Time { return exportTime }

func TestEmptyExportProducesNothing(t *testing.T) {
	dir := t.TempDir()
	for name, sink := range map[string]Sink{
		"csv":  NewCSVSink(dir),
		"xlsx": NewXLSXSink(dir),
	} {
		res, err := sink.Render(context.Background(), "c1", nil)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !res.Empty() {
			t.Errorf("%s: expected empty result, got %+v", name, res)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("no files expected, found %d", len(entries))
	}
}

func TestCSVSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)
	sink.now = fixedNow

	res, err := sink.Render(context.Background(), "c1", sampleMessages())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if res.Rows != 2 || !strings.HasSuffix(res.Location, "lesson-3_logs_20240601_123045.csv") {
		t.Fatalf("unexpected result %+v", res)
	}

	data, err := os.ReadFile(res.Location)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.HasPrefix(data, utf8BOM) {
		t.Fatal("csv should start with a UTF-8 BOM")
	}

	rows, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 3 || strings.Join(rows[0], ",") != strings.Join(columns, ",") {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[1][4] != "staff" || rows[2][4] != "student" {
		t.Errorf("unexpected user types %q %q", rows[1][4], rows[2][4])
	}
	if rows[2][8] != "true" || rows[2][9] != "👍, 👀" || rows[2][10] != "t1" {
		t.Errorf("unexpected question row %v", rows[2])
	}
}

func TestXLSXSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewXLSXSink(dir)
	sink.now = fixedNow

	res, err := sink.Render(context.Background(), "c1", sampleMessages())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.HasSuffix(res.Location, ".xlsx") {
		t.Fatalf("unexpected location %s", res.Location)
	}

	f, err := excelize.OpenFile(res.Location)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("read rows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "message_id" || rows[1][0] != "m2" || rows[2][6] != "How do I fix this error?" {
		t.Errorf("unexpected content %v", rows)
	}
}

func TestFileNameSanitized(t *testing.T) {
	msgs := []models.Message{{ChannelName: "Lesson 3 / Python?"}}
	if got := fileName("c1", msgs, exportTime, "csv"); got != "Lesson_3_Python_logs_20240601_123045.csv" {
		t.Errorf("unexpected name %q", got)
	}
	if got := fileName("-1001", []models.Message{{}}, exportTime, "csv"); got != "1001_logs_20240601_123045.csv" {
		t.Errorf("unexpected fallback name %q", got)
	}
}

func TestNewFormat(t *testing.T) {
	if _, ok := mustNew(t, "csv").(*CSVSink); !ok {
		t.Error("expected csv sink")
	}
	if _, ok := mustNew(t, "XLSX").(*XLSXSink); !ok {
		t.Error("expected xlsx sink")
	}
	if _, err := New("pdf", ""); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func mustNew(t *testing.T, format string) Sink {
	t.Helper()
	s, err := New(format, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

type fakeS3 struct {
	mu   sync.Mutex
	keys []string
	body []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkUploads(t *testing.T) {
	csvSink := NewCSVSink(t.TempDir())
	csvSink.now = fixedNow
	client := &fakeS3{}
	sink := newS3Sink(csvSink, client, S3Config{Bucket: "exports", Prefix: "/logs/"}, zap.NewNop())

	res, err := sink.Render(context.Background(), "c1", sampleMessages())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if res.Location != "s3://exports/logs/lesson-3_logs_20240601_123045.csv" {
		t.Errorf("unexpected location %s", res.Location)
	}
	if len(client.keys) != 1 || !bytes.HasPrefix(client.body, utf8BOM) {
		t.Errorf("unexpected upload %v", client.keys)
	}

	empty, err := sink.Render(context.Background(), "c1", nil)
	if err != nil || !empty.Empty() || len(client.keys) != 1 {
		t.Errorf("empty export must not upload: %+v %v", empty, err)
	}
}
