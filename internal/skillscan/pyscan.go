package skillscan

import (
	"bufio"
	"regexp"
	"strings"
)

// marker is the project's command decorator, as named in spec.md §6
// ("a function tagged with the project's skill_command marker").
const marker = "skill_command"

var (
	defRe  = regexp.MustCompile(`^def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	kvRe   = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"|(\w+)\s*=\s*'([^']*)'`)
	listRe = regexp.MustCompile(`(\w+)\s*=\s*\[([^\]]*)\]`)
)

// pyCommand is a raw decorator+def match before it is lifted into a
// kernel.Command by the caller (which also knows the owning skill name and
// content hash).
type pyCommand struct {
	FunctionName string
	Name         string
	Description  string
	Category     string
	Keywords     []string
	Docstring    string
}

// scanPythonSource locates functions decorated with @skill_command in a
// single .py file's text. This does not build or execute a Python AST —
// no such parser exists in the available dependency set — it instead scans
// for the textual decorator+def pattern the marker produces, which is
// sufficient because the scanner only needs metadata the decorator already
// carries as literal arguments, never the function body.
func scanPythonSource(src string) []pyCommand {
	var out []pyCommand
	scanner := bufio.NewScanner(strings.NewReader(src))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "@"+marker) {
			continue
		}

		decoratorText, next := collectDecorator(lines, i)
		i = next

		// Skip any further decorator lines before the def.
		for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "@") {
			i++
		}
		if i >= len(lines) {
			break
		}

		defLine, sigEnd := collectSignature(lines, i)
		m := defRe.FindStringSubmatch(strings.TrimSpace(defLine))
		if m == nil {
			continue
		}

		cmd := pyCommand{FunctionName: m[1]}
		applyDecoratorArgs(decoratorText, &cmd)
		cmd.Docstring = extractDocstring(lines, sigEnd+1)
		out = append(out, cmd)
		i = sigEnd
	}

	return out
}

// collectDecorator gathers a (possibly multi-line, parenthesized) decorator
// starting at index i and returns its text plus the index of its last line.
func collectDecorator(lines []string, i int) (string, int) {
	text := lines[i]
	depth := strings.Count(text, "(") - strings.Count(text, ")")
	for depth > 0 && i+1 < len(lines) {
		i++
		text += "\n" + lines[i]
		depth += strings.Count(lines[i], "(") - strings.Count(lines[i], ")")
	}
	return text, i
}

// collectSignature gathers a (possibly multi-line) "def ...(...):" block.
func collectSignature(lines []string, i int) (string, int) {
	text := lines[i]
	depth := strings.Count(text, "(") - strings.Count(text, ")")
	for depth > 0 && i+1 < len(lines) {
		i++
		text += " " + strings.TrimSpace(lines[i])
		depth += strings.Count(lines[i], "(") - strings.Count(lines[i], ")")
	}
	return text, i
}

func applyDecoratorArgs(decoratorText string, cmd *pyCommand) {
	for _, m := range kvRe.FindAllStringSubmatch(decoratorText, -1) {
		key, val := m[1], m[2]
		if key == "" {
			key, val = m[3], m[4]
		}
		switch key {
		case "name":
			cmd.Name = val
		case "description":
			cmd.Description = val
		case "category":
			cmd.Category = val
		}
	}
	if lm := listRe.FindStringSubmatch(decoratorText); lm != nil && lm[1] == "keywords" {
		for _, part := range strings.Split(lm[2], ",") {
			part = strings.Trim(strings.TrimSpace(part), `"'`)
			if part != "" {
				cmd.Keywords = append(cmd.Keywords, part)
			}
		}
	}
}

func extractDocstring(lines []string, from int) string {
	for from < len(lines) && strings.TrimSpace(lines[from]) == "" {
		from++
	}
	if from >= len(lines) {
		return ""
	}
	line := strings.TrimSpace(lines[from])
	for _, q := range []string{`"""`, `'''`} {
		if strings.HasPrefix(line, q) {
			rest := strings.TrimPrefix(line, q)
			if idx := strings.Index(rest, q); idx >= 0 {
				return strings.TrimSpace(rest[:idx])
			}
			var sb strings.Builder
			sb.WriteString(rest)
			for j := from + 1; j < len(lines); j++ {
				if idx := strings.Index(lines[j], q); idx >= 0 {
					sb.WriteString("\n" + lines[j][:idx])
					return strings.TrimSpace(sb.String())
				}
				sb.WriteString("\n" + lines[j])
			}
			return strings.TrimSpace(sb.String())
		}
	}
	return ""
}
