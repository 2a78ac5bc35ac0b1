package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// outputPattern recognises the location line of one compiler dialect.
type outputPattern struct {
	regex       *regexp.Regexp
	parseFields func(matches []string) (file string, line int, column int)
}

var outputPatterns = []outputPattern{
	// dart-sass: "  src/scss/main.scss 3:15  root stylesheet"
	{
		regex: regexp.MustCompile(`^\s*(\S+\.s[ac]ss) (\d+):(\d+)(?:\s|$)`),
		parseFields: func(m []string) (string, int, int) {
			return m[1], atoi(m[2]), atoi(m[3])
		},
	},
	// libsass: "on line 3:15 of src/scss/main.scss"
	{
		regex: regexp.MustCompile(`on line (\d+)(?::(\d+))? of (\S+)`),
		parseFields: func(m []string) (string, int, int) {
			return m[3], atoi(m[1]), atoi(m[2])
		},
	},
	// generic "file:line:col: message"
	{
		regex: regexp.MustCompile(`^(\S+\.\w+):(\d+):(\d+):`),
		parseFields: func(m []string) (string, int, int) {
			return m[1], atoi(m[2]), atoi(m[3])
		},
	},
}

// ParseCompilerOutput builds a TransformationError for task from the
// diagnostic output of an external compiler. The first line starting with
// "Error:" becomes the message; the first recognised location line sets the
// file position.
func ParseCompilerOutput(task, output string, cause error) *TransformationError {
	te := NewTransformationError(task, "", cause)

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if te.Message == "" && strings.HasPrefix(trimmed, "Error:") {
			te.Message = strings.TrimSpace(strings.TrimPrefix(trimmed, "Error:"))
		}
		if te.File != "" {
			continue
		}
		for _, pattern := range outputPatterns {
			if m := pattern.regex.FindStringSubmatch(line); m != nil {
				te.WithLocation(pattern.parseFields(m))
				break
			}
		}
	}

	if te.Message == "" {
		te.Message = firstLine(output)
	}
	if te.Message == "" {
		te.Message = "compilation failed"
	}
	return te
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
