package git

import (
	"bufio"
	"strconv"
	"strings"
)

// StatusEntry is one line of git status --porcelain.
type StatusEntry struct {
	// Code is the two-character XY status, e.g. "??" or " M".
	Code string
	Path string
}

// Untracked reports whether the file is not yet known to git.
func (e StatusEntry) Untracked() bool {
	return e.Code == "??"
}

// ParseStatus parses porcelain v1 status output. Renames report the new path.
func ParseStatus(output string) []StatusEntry {
	var entries []StatusEntry
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) < 4 || line[2] != ' ' {
			continue
		}
		path := line[3:]
		if _, to, ok := strings.Cut(path, " -> "); ok {
			path = to
		}
		if unq, err := strconv.Unquote(path); err == nil {
			path = unq
		}
		entries = append(entries, StatusEntry{Code: line[:2], Path: path})
	}
	return entries
}
