// Package permission implements the Permission Gatekeeper (C5): a static
// check of whether a tool name is covered by a skill's declared
// permissions.
//
// Grounded on the teacher's internal/tools/policy package's allow-list
// matching shape, generalized from HTTP-route patterns to the three-rule
// contract spec.md §4.4 fixes: "*" allows everything, "prefix:*" allows
// anything starting with "prefix.", and anything else must match exactly.
package permission

import "strings"

// Violation is returned when a tool is not covered by a skill's declared
// permissions. It never echoes the full permission list back to the
// caller (spec.md §4.4: "must not leak the permission list").
type Violation struct {
	SkillName          string
	ToolName           string
	RequiredPermission string
}

func (v *Violation) Error() string {
	return "permission denied: " + v.SkillName + " is not permitted to call " + v.ToolName
}

// Check reports whether toolName is covered by permissions, applying the
// three rules in order: exact "*" wildcard, "prefix:*" namespace wildcard,
// then exact match.
func Check(toolName string, permissions []string) bool {
	for _, p := range permissions {
		if p == "*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, ":*"); ok {
			if strings.HasPrefix(toolName, prefix+".") {
				return true
			}
			continue
		}
		if p == toolName {
			return true
		}
	}
	return false
}

// Gate is a convenience wrapper returning a *Violation instead of a bool,
// suitable for direct use in the dispatcher's error path.
func Gate(skillName, toolName string, permissions []string) error {
	if Check(toolName, permissions) {
		return nil
	}
	return &Violation{SkillName: skillName, ToolName: toolName, RequiredPermission: toolName}
}
