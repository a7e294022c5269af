package jobqueue

import (
	"regexp"
	"strings"
)

var promptVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// ResolvePrompt substitutes {{name}} placeholders with the given variables.
// Unknown placeholders are left in place so they stay visible in the output.
func ResolvePrompt(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{{") {
		return strings.TrimSpace(template)
	}
	out := promptVarPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := promptVarPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
	return strings.TrimSpace(out)
}
