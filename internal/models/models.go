package models

import (
	"strings"
	"time"
)

// UserRole is the canonical role of a chat participant
type UserRole string

const (
	RoleAdmin       UserRole = "admin"
	RoleSupport     UserRole = "support"
	RoleMentor      UserRole = "mentor"
	RoleAIAssistant UserRole = "ai_assistant"
	RoleStudent     UserRole = "student"
	RoleParent      UserRole = "parent"
)

var staffRoles = map[UserRole]struct{}{
	RoleAdmin:       {},
	RoleSupport:     {},
	RoleMentor:      {},
	RoleAIAssistant: {},
}

// ParseUserRole maps a stored role name back to a UserRole.
func ParseUserRole(s string) (UserRole, bool) {
	switch r := UserRole(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleSupport, RoleMentor, RoleAIAssistant, RoleStudent, RoleParent:
		return r, true
	}
	return "", false
}

// User represents a chat participant with their classified roles
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	Roles       []UserRole `json:"roles"`
}

// IsStaff reports whether any role belongs to the operating side.
func (u User) IsStaff() bool {
	for _, r := range u.Roles {
		if _, ok := staffRoles[r]; ok {
			return true
		}
	}
	return false
}

func (u User) IsStudentSide() bool {
	return !u.IsStaff()
}

// UserType is the two-way partition used in exports and prompts.
func (u User) UserType() string {
	if u.IsStaff() {
		return "staff"
	}
	return "student"
}

func (u User) RoleNames() []string {
	names := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		names[i] = string(r)
	}
	return names
}

// Message represents a chat message captured from a lesson channel
type Message struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	User        User      `json:"user"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Reactions   []string  `json:"reactions"`
	IsQuestion  bool      `json:"is_question"`
	ThreadID    string    `json:"thread_id,omitempty"`
}

// IsQuestion is the single question predicate used at ingestion and
// detection: the trimmed content ends with an ASCII or full-width question mark.
func IsQuestion(content string) bool {
	trimmed := strings.TrimRight(content, " \t\r\n")
	return strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "？")
}
