package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	mexec "github.com/ShayCichocki/mosaic/internal/exec"
)

const maxToolOutput = 30000

// ErrOutsideWorkspace is returned when a tool path resolves outside the workspace root.
var ErrOutsideWorkspace = errors.New("path outside workspace")

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	Content string
	IsError bool
}

func toolError(format string, args ...interface{}) ToolResult {
	return ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// ToolExecutor executes tool calls confined to one workspace root.
type ToolExecutor struct {
	root    string
	allowed map[ToolKind]bool
	runner  mexec.CommandRunner

	mu      sync.Mutex
	written map[string]bool
}

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithTools restricts the executor to the given kinds.
func WithTools(kinds ...ToolKind) ExecutorOption {
	return func(e *ToolExecutor) {
		e.allowed = make(map[ToolKind]bool, len(kinds))
		for _, k := range kinds {
			e.allowed[k] = true
		}
	}
}

// WithCommandRunner sets the runner used by the Bash tool.
func WithCommandRunner(r mexec.CommandRunner) ExecutorOption {
	return func(e *ToolExecutor) {
		if r != nil {
			e.runner = r
		}
	}
}

// NewToolExecutor creates a tool executor rooted at the given directory.
// All tools are allowed unless restricted with WithTools.
func NewToolExecutor(root string, opts ...ExecutorOption) *ToolExecutor {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	e := &ToolExecutor{
		root:    filepath.Clean(root),
		runner:  mexec.NewRunner(),
		written: make(map[string]bool),
	}
	WithTools(AllTools...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Root returns the workspace root.
func (e *ToolExecutor) Root() string {
	return e.root
}

// Allowed reports whether the executor will run the kind.
func (e *ToolExecutor) Allowed(kind ToolKind) bool {
	return e.allowed[kind]
}

// Written returns the workspace-relative paths written by Write or Edit, sorted.
func (e *ToolExecutor) Written() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	paths := make([]string, 0, len(e.written))
	for p := range e.written {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Execute runs one tool call.
func (e *ToolExecutor) Execute(ctx context.Context, kind ToolKind, input json.RawMessage) ToolResult {
	if !e.allowed[kind] {
		return toolError("Tool not available: %s", kind)
	}
	switch kind {
	case ToolRead:
		return e.execRead(input)
	case ToolWrite:
		return e.execWrite(input)
	case ToolEdit:
		return e.execEdit(input)
	case ToolGlob:
		return e.execGlob(input)
	case ToolGrep:
		return e.execGrep(input)
	case ToolListDir:
		return e.execListDir(input)
	case ToolBash:
		return e.execBash(ctx, input)
	}
	return toolError("Unknown tool: %s", kind)
}

func (e *ToolExecutor) execRead(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolError("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.FilePath)
	if err != nil {
		return toolError("%v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return toolError("Failed to read file: %v", err)
	}

	lines := strings.Split(string(content), "\n")
	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return toolError("Offset beyond end of file")
		}
	}
	end := len(lines)
	if params.Limit > 0 {
		end = min(start+params.Limit, len(lines))
	}

	var result strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&result, "%6d\t%s\n", i+1, lines[i])
	}
	return ToolResult{Content: result.String()}
}

func (e *ToolExecutor) execWrite(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolError("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.FilePath)
	if err != nil {
		return toolError("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return toolError("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return toolError("Failed to write file: %v", err)
	}

	e.recordWrite(path)
	return ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), e.rel(path))}
}

func (e *ToolExecutor) execEdit(input json.RawMessage) ToolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolError("Invalid parameters: %v", err)
	}
	if params.OldString == "" {
		return toolError("old_string must not be empty")
	}

	path, err := e.resolvePath(params.FilePath)
	if err != nil {
		return toolError("%v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return toolError("Failed to read file: %v", err)
	}

	text := string(content)
	count := strings.Count(text, params.OldString)
	if count == 0 {
		return toolError("old_string not found in file")
	}
	if !params.ReplaceAll && count > 1 {
		return toolError("old_string found %d times; must be unique or use replace_all=true", count)
	}

	n := 1
	if params.ReplaceAll {
		n = -1
	}
	if err := os.WriteFile(path, []byte(strings.Replace(text, params.OldString, params.NewString, n)), 0644); err != nil {
		return toolError("Failed to write file: %v", err)
	}

	e.recordWrite(path)
	if params.ReplaceAll {
		return ToolResult{Content: fmt.Sprintf("Replaced %d occurrences", count)}
	}
	return ToolResult{Content: "Edit successful"}
}

func (e *ToolExecutor) execGlob(input json.RawMessage) ToolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolError("Invalid parameters: %v", err)
	}
	if !doublestar.ValidatePattern(params.Pattern) {
		return toolError("Invalid glob pattern: %s", params.Pattern)
	}

	searchPath, err := e.resolvePath(params.Path)
	if err != nil {
		return toolError("%v", err)
	}

	matches, err := doublestar.Glob(os.DirFS(searchPath), params.Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return toolError("Glob error: %v", err)
	}

	var visible []string
	for _, m := range matches {
		if !hiddenPath(m) {
			visible = append(visible, m)
		}
	}
	if len(visible) == 0 {
		return ToolResult{Content: "No files matched the pattern"}
	}
	sort.Strings(visible)
	return ToolResult{Content: strings.Join(visible, "\n")}
}

func (e *ToolExecutor) execGrep(input json.RawMessage) ToolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Glob    string `json:"glob"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolError("Invalid parameters: %v", err)
	}
	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return toolError("Invalid regex: %v", err)
	}
	if params.Glob != "" && !doublestar.ValidatePattern(params.Glob) {
		return toolError("Invalid glob pattern: %s", params.Glob)
	}

	searchPath, err := e.resolvePath(params.Path)
	if err != nil {
		return toolError("%v", err)
	}

	var out strings.Builder
	walkErr := filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if d.IsDir() {
			if path != searchPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel := e.rel(path)
		if params.Glob != "" {
			if ok, _ := doublestar.PathMatch(params.Glob, rel); !ok {
				if ok, _ := doublestar.Match(params.Glob, d.Name()); !ok {
					return nil
				}
			}
		}
		grepFile(path, rel, re, &out)
		if out.Len() > maxToolOutput {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return toolError("Grep error: %v", walkErr)
	}
	if out.Len() == 0 {
		return ToolResult{Content: "No matches found"}
	}
	return ToolResult{Content: truncateOutput(out.String())}
}

func grepFile(path, rel string, re *regexp.Regexp, out *strings.Builder) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if re.Match(scanner.Bytes()) {
			fmt.Fprintf(out, "%s:%d:%s\n", rel, line, scanner.Text())
		}
	}
}

func (e *ToolExecutor) execListDir(input json.RawMessage) ToolResult {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolError("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return toolError("%v", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return toolError("Failed to read directory: %v", err)
	}

	var result strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&result, "d %s/\n", entry.Name())
			continue
		}
		if info, err := entry.Info(); err == nil {
			fmt.Fprintf(&result, "- %s (%d bytes)\n", entry.Name(), info.Size())
		} else {
			fmt.Fprintf(&result, "? %s\n", entry.Name())
		}
	}
	return ToolResult{Content: result.String()}
}

func (e *ToolExecutor) execBash(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolError("Invalid parameters: %v", err)
	}

	timeout := 120 * time.Second
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := e.runner.RunShell(ctx, e.root, params.Command, nil)
	output := string(res.Stdout) + string(res.Stderr)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return toolError("Command timed out after %v:\n%s", timeout, truncateOutput(output))
		}
		return toolError("%s\nError: %v", truncateOutput(output), err)
	}
	return ToolResult{Content: truncateOutput(output)}
}

// resolvePath resolves a tool path against the root and rejects escapes.
// An empty path means the root itself.
func (e *ToolExecutor) resolvePath(path string) (string, error) {
	if path == "" {
		return e.root, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(e.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return path, nil
}

func (e *ToolExecutor) rel(path string) string {
	if rel, err := filepath.Rel(e.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func (e *ToolExecutor) recordWrite(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.written[e.rel(path)] = true
}

func hiddenPath(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func truncateOutput(s string) string {
	if len(s) > maxToolOutput {
		return s[:maxToolOutput] + "\n... (output truncated)"
	}
	return s
}

// FormatToolAction returns a human-readable description of a tool call.
func FormatToolAction(kind ToolKind, input json.RawMessage) string {
	var p struct {
		FilePath string `json:"file_path"`
		Pattern  string `json:"pattern"`
		Command  string `json:"command"`
	}
	_ = json.Unmarshal(input, &p)

	switch kind {
	case ToolRead:
		return "Reading " + filepath.Base(p.FilePath)
	case ToolWrite:
		return "Writing " + filepath.Base(p.FilePath)
	case ToolEdit:
		return "Editing " + filepath.Base(p.FilePath)
	case ToolGlob:
		return "Searching " + p.Pattern
	case ToolGrep:
		pat := p.Pattern
		if len(pat) > 15 {
			pat = pat[:12] + "..."
		}
		return "Grep " + pat
	case ToolListDir:
		return "Listing directory"
	case ToolBash:
		cmd := strings.SplitN(p.Command, " ", 2)[0]
		if len(cmd) > 20 {
			cmd = cmd[:17] + "..."
		}
		return "Running " + cmd
	}
	return kind.String()
}
