package classifier

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

func TestClassifyRoles(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   []models.UserRole
	}{
		{"empty input", nil, []models.UserRole{models.RoleStudent}},
		{"blank labels", []string{"", "  "}, []models.UserRole{models.RoleStudent}},
		{"plain member", []string{"member"}, []models.UserRole{models.RoleStudent}},
		{"administrator", []string{"Administrator"}, []models.UserRole{models.RoleAdmin}},
		{"lead mentor", []string{"Lead Mentor"}, []models.UserRole{models.RoleMentor}},
		{"teacher", []string{"Python Teacher"}, []models.UserRole{models.RoleMentor}},
		{"instructor", []string{"Instructor"}, []models.UserRole{models.RoleMentor}},
		{"bot", []string{"Helper Bot"}, []models.UserRole{models.RoleAIAssistant}},
		{"assistant", []string{"assistant"}, []models.UserRole{models.RoleAIAssistant}},
		{"support", []string{"Support Team"}, []models.UserRole{models.RoleSupport}},
		{"parent", []string{"Parents"}, []models.UserRole{models.RoleParent}},
		// admin wins over support within a single label
		{"priority", []string{"admin-support"}, []models.UserRole{models.RoleAdmin}},
		{"one role per label", []string{"Mentor", "Student"}, []models.UserRole{models.RoleMentor, models.RoleStudent}},
		{"deduplicated", []string{"mentor", "teacher"}, []models.UserRole{models.RoleMentor}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRoles(tt.labels)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ClassifyRoles(%v) = %v, want %v", tt.labels, got, tt.want)
			}
		})
	}
}

func TestClassifyRolesStaffLabelsExcludeStudent(t *testing.T) {
	staffLabels := []string{"admin", "support", "mentor", "teacher", "instructor", "ai", "bot", "assistant"}
	for _, label := range staffLabels {
		roles := ClassifyRoles([]string{strings.ToUpper(label)})
		for _, r := range roles {
			if r == models.RoleStudent {
				t.Errorf("label %q classified as student", label)
			}
		}
		if !(models.User{Roles: roles}).IsStaff() {
			t.Errorf("label %q should yield a staff user", label)
		}
	}
}

func TestParseFindings(t *testing.T) {
	raw := "```json\n" + `{"off_topic_messages": [
		{"message_id": "m1", "reason": "weekend plans", "topic_type": "small_talk", "severity": "HIGH"},
		{"message_id": "", "reason": "no id", "topic_type": "other", "severity": "low"},
		{"message_id": "m2", "reason": "games", "topic_type": "small_talk", "severity": "unknown"}
	]}` + "\n```"

	findings, err := parseFindings(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	if findings[0].Severity != SeverityHigh {
		t.Errorf("expected high severity, got %s", findings[0].Severity)
	}
	if findings[1].Severity != SeverityLow {
		t.Errorf("unknown severity should normalise to low, got %s", findings[1].Severity)
	}

	if _, err := parseFindings("not json"); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestFormatConversation(t *testing.T) {
	ts := time.Date(2024, 5, 1, 14, 5, 0, 0, time.UTC)
	out := formatConversation([]models.Message{
		{ID: "m1", Content: "hello?", Timestamp: ts, User: models.User{DisplayName: "Alice", Roles: []models.UserRole{models.RoleStudent}}},
		{ID: "m2", Content: "hi", Timestamp: ts, User: models.User{Username: "bob", Roles: []models.UserRole{models.RoleMentor}}},
	})

	want := "[id=m1] [14:05] Alice(student): hello?\n[id=m2] [14:05] bob(staff): hi\n"
	if out != want {
		t.Errorf("unexpected conversation:\n%s\nwant:\n%s", out, want)
	}
}
