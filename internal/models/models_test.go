package models

import (
	"errors"
	"testing"
	"time"
)

func TestIsQuestion(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"How do I fix this error?", true},
		{"このエラーはどう直しますか？", true},
		{"is this right?  \n", true},
		{"I asked? then moved on", false},
		{"thanks!", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsQuestion(tt.content); got != tt.want {
			t.Errorf("IsQuestion(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestUserStaffPartition(t *testing.T) {
	tests := []struct {
		name  string
		roles []UserRole
		staff bool
	}{
		{"student", []UserRole{RoleStudent}, false},
		{"parent", []UserRole{RoleParent}, false},
		{"mentor", []UserRole{RoleMentor}, true},
		{"bot", []UserRole{RoleAIAssistant}, true},
		{"mixed", []UserRole{RoleStudent, RoleSupport}, true},
	}
	for _, tt := range tests {
		u := User{ID: "1", Roles: tt.roles}
		if u.IsStaff() != tt.staff {
			t.Errorf("%s: IsStaff() = %v, want %v", tt.name, u.IsStaff(), tt.staff)
		}
		if u.IsStudentSide() == tt.staff {
			t.Errorf("%s: IsStudentSide() must be the negation of IsStaff()", tt.name)
		}
	}
}

func TestLessonMatcher(t *testing.T) {
	m := NewLessonMatcher(nil)
	for name, want := range map[string]bool{
		"lesson-3":       true,
		"Python-CLASS-a": true,
		"第2回授業":          true,
		"general":        false,
		"random":         false,
	} {
		if got := m.IsLesson(name); got != want {
			t.Errorf("IsLesson(%q) = %v, want %v", name, got, want)
		}
	}

	ch := m.Channel("42", "Lesson-7")
	if !ch.IsLessonChannel {
		t.Error("expected derived lesson flag")
	}
}

func TestChannelNeedsStaffResponse(t *testing.T) {
	ch := Channel{ID: "1", Name: "lesson-1"}
	if ch.NeedsStaffResponse() {
		t.Fatal("channel without last message must not need a response")
	}

	ch.LastMessage = &Message{User: User{Roles: []UserRole{RoleStudent}}, IsQuestion: true}
	if !ch.NeedsStaffResponse() {
		t.Error("student question should need a response")
	}

	ch.LastMessage = &Message{User: User{Roles: []UserRole{RoleMentor}}, IsQuestion: true}
	if ch.NeedsStaffResponse() {
		t.Error("staff question should not need a response")
	}
}

func TestRawMessageValidate(t *testing.T) {
	valid := RawMessage{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "hi",
		Timestamp: time.Now(),
		Author:    RawAuthor{ID: "u1", Username: "alice"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missingAuthor := valid
	missingAuthor.Author = RawAuthor{}
	if err := missingAuthor.Validate(); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}

	missingTime := valid
	missingTime.Timestamp = time.Time{}
	if err := missingTime.Validate(); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput for zero timestamp, got %v", err)
	}
}

func TestDedupKey(t *testing.T) {
	a := Alert{
		Channel: Channel{ID: "c1"},
		Message: Message{ID: "m1"},
		Type:    AlertUnansweredQuestion,
	}
	if got := a.Key().String(); got != "c1:m1:unanswered_question" {
		t.Errorf("unexpected key %q", got)
	}
}
