// Package workspace reads and writes the project tree on behalf of the
// executor. Gather collects a ranked, token-bounded view of the files a task
// is likely to touch; Applier writes a backend edit set all-or-nothing and
// refuses paths outside the project.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harrison/autocoder/internal/models"
)

// MaxDiffBytes bounds the working-tree diff included in a context.
const MaxDiffBytes = 32 * 1024

// SkipDirs are pruned from every context walk.
var SkipDirs = []string{".git", "node_modules", "__pycache__", ".venv", "vendor"}

// GitInfo is the read-only repository view the gatherer needs.
type GitInfo interface {
	Diff(ctx context.Context) (string, error)
	UntrackedFiles(ctx context.Context) ([]string, error)
}

// Options configures a Gatherer.
type Options struct {
	Include      []string
	Exclude      []string
	MaxFileBytes int64
	MaxTokens    int    // budget for file contents (0 = unlimited)
	Tokenizer    string // tiktoken or estimate
	StateDir     string // project-relative state directory, always hidden
}

// File is one file included in a context.
type File struct {
	Path    string
	Content string
	Tokens  int
	Score   int
}

// Context is what the backend sees of the project for one task.
type Context struct {
	Files     []File
	Omitted   []string // candidates dropped by the token budget
	Diff      string
	Untracked []string
	Tokens    int
	Snapshot  *Snapshot
}

// Gatherer collects task context from a project directory.
type Gatherer struct {
	root    string
	opts    Options
	git     GitInfo
	counter TokenCounter
	now     func() time.Time
}

// NewGatherer creates a Gatherer for root. git may be nil.
func NewGatherer(root string, opts Options, git GitInfo) *Gatherer {
	return &Gatherer{
		root:    root,
		opts:    opts,
		git:     git,
		counter: NewTokenCounter(opts.Tokenizer),
		now:     time.Now,
	}
}

// Gather ranks candidate files for task and fills the token budget.
// Explicitly referenced files come first, then files whose path shares words
// with the task, then everything else by path.
func (g *Gatherer) Gather(ctx context.Context, task *models.SubTask) (*Context, error) {
	taken := g.now()

	exclude := append([]string(nil), g.opts.Exclude...)
	if g.opts.StateDir != "" {
		exclude = append(exclude, g.opts.StateDir+"/**")
	}
	scan, err := Scan(g.root, ScanOptions{
		Include:      g.opts.Include,
		Exclude:      exclude,
		SkipDirs:     SkipDirs,
		MaxFileBytes: g.opts.MaxFileBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	out := &Context{Snapshot: &Snapshot{Taken: taken, files: make(map[string]fileState, len(scan.Files))}}

	text := strings.ToLower(task.Title + "\n" + task.Description + "\n" + task.TestCommand)
	words := taskWords(text)
	type candidate struct {
		ScannedFile
		score int
	}
	candidates := make([]candidate, 0, len(scan.Files))
	for _, f := range scan.Files {
		out.Snapshot.files[f.Path] = fileState{size: f.Size, modTime: f.ModTime}
		candidates = append(candidates, candidate{ScannedFile: f, score: relevance(f.Path, text, words)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].Path < candidates[j].Path
	})

	remaining := g.opts.MaxTokens
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(g.root, filepath.FromSlash(c.Path)))
		if err != nil {
			// raced with a delete; leave it out of the context and snapshot
			delete(out.Snapshot.files, c.Path)
			continue
		}
		content := string(data)
		tokens := g.counter.Count(content)
		if g.opts.MaxTokens > 0 && tokens > remaining {
			out.Omitted = append(out.Omitted, c.Path)
			continue
		}
		remaining -= tokens
		out.Tokens += tokens
		out.Snapshot.files[c.Path] = fileState{size: c.Size, modTime: c.ModTime, hash: hashBytes(data)}
		out.Files = append(out.Files, File{Path: c.Path, Content: content, Tokens: tokens, Score: c.score})
	}

	if g.git != nil {
		diff, err := g.git.Diff(ctx)
		if err != nil {
			return nil, fmt.Errorf("read diff: %w", err)
		}
		if len(diff) > MaxDiffBytes {
			diff = diff[:MaxDiffBytes] + "\n...[diff truncated]\n"
		}
		out.Diff = diff

		untracked, err := g.git.UntrackedFiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("list untracked files: %w", err)
		}
		for _, u := range untracked {
			if g.opts.StateDir != "" && (u == g.opts.StateDir || strings.HasPrefix(u, g.opts.StateDir+"/")) {
				continue
			}
			out.Untracked = append(out.Untracked, u)
		}
	}
	return out, nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "into": true, "add": true, "new": true, "use": true, "should": true,
	"test": true, "tests": true, "run": true, "file": true, "files": true,
}

func taskWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range pathWords(text) {
		if len(w) >= 3 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

// relevance scores a path against the task text.
func relevance(rel, text string, words map[string]bool) int {
	score := 0
	base := strings.ToLower(path.Base(rel))
	if strings.Contains(text, strings.ToLower(rel)) {
		score += 1000
	} else if len(base) >= 4 && strings.Contains(text, base) {
		score += 500
	}
	for _, w := range pathWords(rel) {
		if words[w] {
			score += 10
		}
	}
	return score
}

// Render formats the context for the coder prompt.
func (c *Context) Render() string {
	var b strings.Builder
	for _, f := range c.Files {
		fmt.Fprintf(&b, "### %s\n```\n%s", f.Path, f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")
	}
	if len(c.Omitted) > 0 {
		b.WriteString("Files not shown (context budget):\n")
		for _, p := range c.Omitted {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	if len(c.Untracked) > 0 {
		b.WriteString("Untracked files:\n")
		for _, p := range c.Untracked {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	if strings.TrimSpace(c.Diff) != "" {
		fmt.Fprintf(&b, "Uncommitted changes:\n```diff\n%s\n```\n", strings.TrimRight(c.Diff, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}

type fileState struct {
	size    int64
	modTime time.Time
	hash    string // set for files whose content was read into the context
}

// Snapshot records the state of the tree when a context was gathered.
type Snapshot struct {
	Taken time.Time
	files map[string]fileState
}

// Changed reports whether rel differs from its state in the snapshot. Files
// the snapshot never saw count as changed only if they appeared afterwards.
func (s *Snapshot) Changed(root, rel string) (bool, error) {
	if s == nil {
		return false, nil
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))
	st, known := s.files[rel]
	info, err := os.Lstat(abs)
	if os.IsNotExist(err) {
		return known, nil
	}
	if err != nil {
		return false, err
	}
	if !known {
		return info.ModTime().After(s.Taken), nil
	}
	if st.hash != "" {
		data, err := os.ReadFile(abs)
		if err != nil {
			return false, err
		}
		return hashBytes(data) != st.hash, nil
	}
	return info.Size() != st.size || !info.ModTime().Equal(st.modTime), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
