package calibration

import (
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultFileName is looked up next to the executable when no explicit
// calibration path is configured.
const DefaultFileName = "calibration.txt"

// formulaLine matches the calibration assignment, e.g. "p = (5.0221 * v) - 24.036".
// Only the right-hand side is parsed as an expression.
var formulaLine = regexp.MustCompile(`^\s*p\s*=\s*`)

// DefaultPath returns the calibration file location beside the running
// executable, falling back to the working directory when the executable
// path cannot be resolved.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName)
}

// Load reads the calibration file at path and returns the configured
// formula. Missing files, unreadable files, empty content, and
// unparseable expressions all yield the default calibration; only a
// malformed expression is worth a warning, since it means the user wrote
// something and got ignored.
func Load(path string) *Formula {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	// When the file assigns p more than once, the last assignment wins.
	var expr string
	for _, line := range strings.Split(string(data), "\n") {
		loc := formulaLine.FindStringIndex(line)
		if loc == nil {
			continue
		}
		if e := strings.TrimSpace(line[loc[1]:]); e != "" {
			expr = e
		}
	}
	if expr == "" {
		return Default()
	}
	f, err := Parse(expr)
	if err != nil {
		log.Printf("calibration %s: ignoring malformed formula %q: %v", path, expr, err)
		return Default()
	}
	return f
}
