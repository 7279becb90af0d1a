package github

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRegex = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// ParseValidLinesFromPatch extracts all line numbers that can receive an
// inline comment in a GitHub review: the lines present on the new side of
// the diff.
func ParseValidLinesFromPatch(patch string, logger *slog.Logger) map[int]struct{} {
	validLines := make(map[int]struct{})

	currentLine := -1
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "@@") {
			matches := hunkHeaderRegex.FindStringSubmatch(line)
			if len(matches) < 2 {
				continue
			}
			start, err := strconv.Atoi(matches[1])
			if err != nil {
				// Malformed hunk: don't trust any line numbers until the
				// next valid header.
				if logger != nil {
					logger.Warn("skipped malformed hunk header", "line", line, "error", err)
				}
				currentLine = -1
				continue
			}
			currentLine = start
			continue
		}

		if currentLine == -1 {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, " "):
			validLines[currentLine] = struct{}{}
			currentLine++
		case strings.HasPrefix(line, "-"):
			// Removed lines exist only on the old side.
		}
	}

	return validLines
}
