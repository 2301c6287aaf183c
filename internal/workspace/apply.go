package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/harrison/autocoder/internal/filelock"
	"github.com/harrison/autocoder/internal/models"
)

var (
	// ErrUnsafePath marks an edit path outside the writable project tree.
	ErrUnsafePath = errors.New("unsafe path")
	// ErrConflict marks a file that changed after its context was gathered.
	ErrConflict = errors.New("file changed since context was gathered")
)

// EditStat summarises one applied edit.
type EditStat struct {
	Path    string
	Action  models.EditAction
	Added   int
	Removed int
}

// ApplyResult lists what an edit set changed.
type ApplyResult struct {
	Paths []string
	Stats []EditStat

	backups     []backup
	createdDirs []string
}

// Revert restores every file the edit set touched to its content before
// Apply and removes the directories Apply created. Files the edit set did not
// touch are left alone. Calling Revert twice is a no-op.
func (r *ApplyResult) Revert() error {
	if r == nil {
		return nil
	}
	err := restoreBackups(r.backups, r.createdDirs)
	r.backups, r.createdDirs = nil, nil
	return err
}

// Totals sums the line changes.
func (r *ApplyResult) Totals() (added, removed int) {
	for _, s := range r.Stats {
		added += s.Added
		removed += s.Removed
	}
	return added, removed
}

// Applier writes edit sets into a project directory.
type Applier struct {
	root      string
	realRoot  string
	protected map[string]bool
}

// NewApplier creates an Applier rooted at root. Top-level names in
// protected (besides .git) are never written.
func NewApplier(root string, protected ...string) (*Applier, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	a := &Applier{root: abs, realRoot: resolved, protected: map[string]bool{".git": true}}
	for _, p := range protected {
		if p != "" {
			a.protected[p] = true
		}
	}
	return a, nil
}

// Root returns the absolute project root.
func (a *Applier) Root() string {
	return a.root
}

// Resolve validates p and returns it relative to the root (slash-separated)
// and as an absolute path. Absolute paths inside the root are accepted.
func (a *Applier) Resolve(p string) (rel, abs string, err error) {
	p = strings.TrimSpace(p)
	if p == "" || strings.ContainsRune(p, 0) {
		return "", "", fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	native := filepath.FromSlash(p)
	if filepath.IsAbs(native) {
		r, ok := within(a.root, native)
		if !ok {
			r, ok = within(a.realRoot, native)
		}
		if !ok {
			return "", "", fmt.Errorf("%w: %s is outside the project", ErrUnsafePath, p)
		}
		native = r
	}
	clean := filepath.Clean(native)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s escapes the project", ErrUnsafePath, p)
	}
	rel = filepath.ToSlash(clean)
	first, _, _ := strings.Cut(rel, "/")
	if a.protected[first] {
		return "", "", fmt.Errorf("%w: %s is inside %s", ErrUnsafePath, p, first)
	}
	if err := a.checkSymlinks(clean); err != nil {
		return "", "", err
	}
	return rel, filepath.Join(a.root, clean), nil
}

// checkSymlinks rejects a path whose existing components resolve outside
// the root.
func (a *Applier) checkSymlinks(clean string) error {
	cur := a.root
	for _, seg := range strings.Split(clean, string(filepath.Separator)) {
		cur = filepath.Join(cur, seg)
		info, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := filepath.EvalSymlinks(cur)
		if err != nil {
			return fmt.Errorf("%w: %s is a dangling symlink", ErrUnsafePath, clean)
		}
		if _, ok := within(a.realRoot, target); !ok {
			return fmt.Errorf("%w: %s resolves outside the project", ErrUnsafePath, clean)
		}
	}
	return nil
}

// within returns p relative to root when p is inside root.
func within(root, p string) (string, bool) {
	r, err := filepath.Rel(root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return r, true
}

type backup struct {
	abs     string
	existed bool
	content []byte
	mode    os.FileMode
}

type plannedEdit struct {
	rel  string
	abs  string
	edit models.FileEdit
	orig backup
}

// Apply writes set into the tree. Either every edit lands or the tree is
// restored to its prior state. snap may be nil to skip conflict detection.
func (a *Applier) Apply(set *models.EditSet, snap *Snapshot) (*ApplyResult, error) {
	if set == nil {
		return nil, errors.New("nil edit set")
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	planned := make([]plannedEdit, 0, len(set.Edits))
	seen := make(map[string]bool, len(set.Edits))
	for _, e := range set.Edits {
		rel, abs, err := a.Resolve(e.Path)
		if err != nil {
			return nil, err
		}
		if seen[rel] {
			return nil, fmt.Errorf("duplicate edit for %s", rel)
		}
		seen[rel] = true

		changed, err := snap.Changed(a.root, rel)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", rel, err)
		}
		if changed {
			return nil, fmt.Errorf("%w: %s", ErrConflict, rel)
		}

		orig, err := readBackup(abs)
		if err != nil {
			return nil, err
		}
		if e.Op() == models.EditDelete && !orig.existed {
			continue
		}
		planned = append(planned, plannedEdit{rel: rel, abs: abs, edit: e, orig: orig})
	}

	result := &ApplyResult{}
	for _, p := range planned {
		var err error
		switch p.edit.Op() {
		case models.EditDelete:
			err = os.Remove(p.abs)
		default:
			var dirs []string
			dirs, err = mkdirTracked(filepath.Dir(p.abs))
			result.createdDirs = append(result.createdDirs, dirs...)
			if err == nil {
				mode := os.FileMode(0644)
				if p.orig.existed {
					mode = p.orig.mode
				}
				err = filelock.AtomicWrite(p.abs, []byte(p.edit.Content), mode)
			}
		}
		if err != nil {
			result.Revert()
			return nil, fmt.Errorf("apply %s: %w", p.rel, err)
		}
		result.backups = append(result.backups, p.orig)

		oldText := string(p.orig.content)
		newText := ""
		if p.edit.Op() == models.EditWrite {
			newText = p.edit.Content
		}
		added, removed := lineChanges(oldText, newText)
		result.Paths = append(result.Paths, p.rel)
		result.Stats = append(result.Stats, EditStat{Path: p.rel, Action: p.edit.Op(), Added: added, Removed: removed})
	}
	return result, nil
}

// restoreBackups undoes writes newest first, then removes the created
// directories that are empty again.
func restoreBackups(backups []backup, createdDirs []string) error {
	var errs []error
	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]
		if b.existed {
			if err := os.MkdirAll(filepath.Dir(b.abs), 0755); err != nil {
				errs = append(errs, err)
				continue
			}
			if err := filelock.AtomicWrite(b.abs, b.content, b.mode); err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", b.abs, err))
			}
		} else if err := os.Remove(b.abs); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", b.abs, err))
		}
	}
	for i := len(createdDirs) - 1; i >= 0; i-- {
		// non-empty when something else wrote there since; keep it
		os.Remove(createdDirs[i])
	}
	return errors.Join(errs...)
}

func readBackup(abs string) (backup, error) {
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return backup{abs: abs}, nil
	}
	if err != nil {
		return backup{}, fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return backup{}, fmt.Errorf("%s is a directory", abs)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return backup{}, fmt.Errorf("read %s: %w", abs, err)
	}
	return backup{abs: abs, existed: true, content: data, mode: info.Mode().Perm()}, nil
}

// mkdirTracked creates dir and its missing parents, returning the ones it
// created outermost first.
func mkdirTracked(dir string) ([]string, error) {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return nil, err
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	var created []string
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0755); err != nil && !os.IsExist(err) {
			return created, err
		}
		created = append(created, missing[i])
	}
	return created, nil
}

// lineChanges counts inserted and deleted lines between two texts.
func lineChanges(oldText, newText string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
