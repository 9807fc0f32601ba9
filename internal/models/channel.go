package models

import "strings"

// DefaultLessonKeywords are matched case-insensitively against channel names.
var DefaultLessonKeywords = []string{"lesson", "レッスン", "授業", "class", "講義"}

// Channel is a chat channel. IsLessonChannel is derived from the name and
// LastMessage is never persisted.
type Channel struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	IsLessonChannel bool     `json:"is_lesson_channel"`
	LastMessage     *Message `json:"-"`
}

// NeedsStaffResponse reports whether the last message is a student-side question.
func (c Channel) NeedsStaffResponse() bool {
	if c.LastMessage == nil {
		return false
	}
	return c.LastMessage.User.IsStudentSide() && c.LastMessage.IsQuestion
}

// LessonMatcher decides lesson relevance from a channel name.
type LessonMatcher struct {
	keywords []string
}

func NewLessonMatcher(keywords []string) *LessonMatcher {
	if len(keywords) == 0 {
		keywords = DefaultLessonKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			lowered = append(lowered, k)
		}
	}
	return &LessonMatcher{keywords: lowered}
}

func (m *LessonMatcher) IsLesson(name string) bool {
	name = strings.ToLower(name)
	for _, k := range m.keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// Channel builds a Channel whose lesson flag is computed from name.
func (m *LessonMatcher) Channel(id, name string) Channel {
	return Channel{
		ID:              id,
		Name:            name,
		IsLessonChannel: m.IsLesson(name),
	}
}
