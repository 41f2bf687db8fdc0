package workspace

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// DefaultPrefix is the revision line namespace used when none is configured.
const DefaultPrefix = "mosaic"

// ErrUnknownWorkspace is returned for state transitions on a task that was never provisioned.
var ErrUnknownWorkspace = errors.New("unknown workspace")

// Provisioner creates and tracks one workspace per task.
// It is safe for concurrent use; provisioning distinct tasks proceeds in parallel.
type Provisioner struct {
	backend Backend
	baseDir string
	prefix  string
	now     func() time.Time

	mu         sync.Mutex
	workspaces map[string]*models.Workspace
	locks      map[string]*sync.Mutex
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithPrefix sets the revision line prefix.
func WithPrefix(prefix string) ProvisionerOption {
	return func(p *Provisioner) {
		if prefix = strings.Trim(prefix, "/ "); prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvisioner creates a Provisioner placing workspaces under baseDir.
func NewProvisioner(backend Backend, baseDir string, opts ...ProvisionerOption) (*Provisioner, error) {
	if backend == nil {
		return nil, errors.New("workspace backend is required")
	}
	if baseDir == "" {
		return nil, errors.New("workspace base directory is required")
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}

	p := &Provisioner{
		backend:    backend,
		baseDir:    absBase,
		prefix:     DefaultPrefix,
		now:        time.Now,
		workspaces: make(map[string]*models.Workspace),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// BaseDir returns the directory workspaces are created under.
func (p *Provisioner) BaseDir() string {
	return p.baseDir
}

// Prefix returns the revision line prefix.
func (p *Provisioner) Prefix() string {
	return p.prefix
}

// RevisionLine returns the deterministic revision line for a task.
func (p *Provisioner) RevisionLine(taskName string) string {
	return p.prefix + "/" + Slug(taskName)
}

// PathFor returns the deterministic workspace directory for a task.
func (p *Provisioner) PathFor(taskName string) string {
	return filepath.Join(p.baseDir, Slug(taskName))
}

// Provision ensures a workspace exists for the task.
//
// Repeated calls for the same task return the existing record without
// touching the backend. A directory already bound to the expected line by an
// earlier process is adopted without mutating calls.
func (p *Provisioner) Provision(ctx context.Context, taskName string) (*models.Workspace, error) {
	if strings.TrimSpace(taskName) == "" {
		return nil, errors.New("task name is required")
	}

	lock := p.lockFor(taskName)
	lock.Lock()
	defer lock.Unlock()

	if ws, ok := p.Get(taskName); ok && ws.State.Usable() {
		return ws, nil
	}

	ws := &models.Workspace{
		TaskName:     taskName,
		Path:         p.PathFor(taskName),
		RevisionLine: p.RevisionLine(taskName),
		State:        models.WorkspaceAbsent,
		CreatedAt:    p.now(),
	}

	bound, err := p.backend.IsBound(ctx, ws.RevisionLine, ws.Path)
	if err != nil {
		return p.fail(ws, fmt.Errorf("inspect workspace for %s: %w", taskName, err))
	}
	if !bound {
		if err := p.backend.EnsureRevisionLine(ctx, ws.RevisionLine); err != nil {
			return p.fail(ws, fmt.Errorf("ensure revision line for %s: %w", taskName, err))
		}
		if err := p.backend.BindWorkingDirectory(ctx, ws.RevisionLine, ws.Path); err != nil {
			return p.fail(ws, fmt.Errorf("bind workspace for %s: %w", taskName, err))
		}
	}

	ws.State = models.WorkspaceProvisioned
	p.store(ws)
	debugLog("[workspace] provisioned %s at %s (%s)", taskName, ws.Path, ws.RevisionLine)
	return cloneWorkspace(ws), nil
}

// ProvisionAll provisions workspaces for the named tasks with at most
// parallelism backend operations in flight. A failure for one task never
// prevents the others; failures are returned per task.
func (p *Provisioner) ProvisionAll(ctx context.Context, names []string, parallelism int) (map[string]*models.Workspace, map[string]error) {
	if parallelism < 1 {
		parallelism = 1
	}

	var mu sync.Mutex
	workspaces := make(map[string]*models.Workspace, len(names))
	failures := make(map[string]error)

	g := new(errgroup.Group)
	g.SetLimit(parallelism)
	for _, name := range names {
		g.Go(func() error {
			ws, err := p.Provision(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[name] = err
			}
			if ws != nil {
				workspaces[name] = ws
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	return workspaces, failures
}

// Get returns a copy of the workspace record for the task.
func (p *Provisioner) Get(taskName string) (*models.Workspace, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws, ok := p.workspaces[taskName]
	if !ok {
		return nil, false
	}
	return cloneWorkspace(ws), true
}

// MarkInUse transitions a provisioned workspace to in use.
func (p *Provisioner) MarkInUse(taskName string) error {
	return p.transition(taskName, models.WorkspaceProvisioned, models.WorkspaceInUse)
}

// MarkReleased transitions an in-use workspace back to provisioned.
// The directory is kept for merge review.
func (p *Provisioner) MarkReleased(taskName string) error {
	return p.transition(taskName, models.WorkspaceInUse, models.WorkspaceProvisioned)
}

// List returns all tracked workspaces sorted by task name.
func (p *Provisioner) List() []models.Workspace {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Workspace, 0, len(p.workspaces))
	for _, ws := range p.workspaces {
		out = append(out, *ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskName < out[j].TaskName })
	return out
}

// Teardown releases the task's workspace and forgets it.
func (p *Provisioner) Teardown(ctx context.Context, taskName string, deleteLine bool) error {
	lock := p.lockFor(taskName)
	lock.Lock()
	defer lock.Unlock()

	line, path := p.RevisionLine(taskName), p.PathFor(taskName)
	if ws, ok := p.Get(taskName); ok {
		line, path = ws.RevisionLine, ws.Path
	}
	if err := p.backend.Release(ctx, line, path, deleteLine); err != nil {
		return fmt.Errorf("teardown workspace for %s: %w", taskName, err)
	}

	p.mu.Lock()
	delete(p.workspaces, taskName)
	p.mu.Unlock()
	return nil
}

// CleanupOrphans releases every backend binding under this provisioner's
// prefix that is not tracked in this process, deleting its revision line.
// verbose, if non-nil, is called with each removed path.
func (p *Provisioner) CleanupOrphans(ctx context.Context, verbose func(path string)) (int, error) {
	lister, ok := p.backend.(BindingLister)
	if !ok {
		return 0, nil
	}
	bindings, err := lister.Bindings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list bindings: %w", err)
	}

	tracked := make(map[string]bool)
	for _, ws := range p.List() {
		tracked[ws.RevisionLine] = true
	}

	removed := 0
	for _, b := range bindings {
		if !strings.HasPrefix(b.Line, p.prefix+"/") || tracked[b.Line] {
			continue
		}
		if err := p.backend.Release(ctx, b.Line, b.Path, true); err != nil {
			log.Printf("[workspace] cleanup %s: %v", b.Path, err)
			continue // Skip if we can't remove it
		}
		if verbose != nil {
			verbose(b.Path)
		}
		removed++
	}
	return removed, nil
}

func (p *Provisioner) transition(taskName string, from, to models.WorkspaceState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws, ok := p.workspaces[taskName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkspace, taskName)
	}
	if ws.State != from {
		return fmt.Errorf("workspace %s is %s, expected %s", taskName, ws.State, from)
	}
	ws.State = to
	return nil
}

func (p *Provisioner) fail(ws *models.Workspace, err error) (*models.Workspace, error) {
	ws.State = models.WorkspaceFailed
	ws.Error = err.Error()
	p.store(ws)
	debugLog("[workspace] provisioning failed for %s: %v", ws.TaskName, err)
	return cloneWorkspace(ws), err
}

func (p *Provisioner) store(ws *models.Workspace) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workspaces[ws.TaskName] = cloneWorkspace(ws)
}

func (p *Provisioner) lockFor(taskName string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[taskName]
	if !ok {
		l = &sync.Mutex{}
		p.locks[taskName] = l
	}
	return l
}

func cloneWorkspace(ws *models.Workspace) *models.Workspace {
	c := *ws
	return &c
}

// Slug converts a task name into a string safe for branch names and directories.
// Names that are already safe are returned unchanged. Otherwise the sanitized
// form gets a short hash suffix so distinct names never share a slug.
func Slug(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-_")
	if slug == "" {
		slug = "task"
	}
	if slug == name {
		return slug
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return fmt.Sprintf("%s-%08x", slug, h.Sum32())
}
