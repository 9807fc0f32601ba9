package classifier

import (
	"strings"

	"github.com/xaenox/lesson-monitor/internal/models"
)

// Staff categories in priority order. A label maps to the first category
// with a matching keyword.
var staffCategories = []struct {
	role     models.UserRole
	keywords []string
}{
	{models.RoleAdmin, []string{"admin"}},
	{models.RoleSupport, []string{"support"}},
	{models.RoleMentor, []string{"mentor", "teacher", "instructor"}},
	{models.RoleAIAssistant, []string{"ai", "bot", "assistant"}},
}

// ClassifyRoles maps raw platform role labels to canonical roles. Each label
// contributes at most one role; the result is never empty.
func ClassifyRoles(labels []string) []models.UserRole {
	seen := make(map[models.UserRole]struct{})
	roles := make([]models.UserRole, 0, len(labels))

	for _, label := range labels {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		role := classifyLabel(label)
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}

	if len(roles) == 0 {
		return []models.UserRole{models.RoleStudent}
	}
	return roles
}

func classifyLabel(label string) models.UserRole {
	for _, category := range staffCategories {
		for _, keyword := range category.keywords {
			if strings.Contains(label, keyword) {
				return category.role
			}
		}
	}
	if strings.Contains(label, "parent") {
		return models.RoleParent
	}
	return models.RoleStudent
}
