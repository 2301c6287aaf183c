// Package gitmgr wraps the single working repository rooted at the project
// directory. Mutations go through the git CLI so hooks and config behave as
// they do for a developer; inspection uses go-git.
package gitmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/harrison/autocoder/internal/models"
)

// CommitResult describes a commit created for a task.
type CommitResult struct {
	Hash    string
	Message *models.CommitMessage
	Files   []string
}

// Manager stages, commits, and inspects one repository.
type Manager struct {
	dir         string
	authorName  string
	authorEmail string
}

// Option configures a Manager.
type Option func(*Manager)

// WithAuthor sets the identity used when the repository has none configured.
func WithAuthor(name, email string) Option {
	return func(m *Manager) {
		if name != "" {
			m.authorName = name
		}
		if email != "" {
			m.authorEmail = email
		}
	}
}

// New returns a Manager for the repository containing dir.
func New(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:         dir,
		authorName:  "autocoder",
		authorEmail: "autocoder@localhost",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the project directory.
func (m *Manager) Dir() string {
	return m.dir
}

// EnsureRepo opens the repository containing the project directory and
// initializes one there if none exists.
func (m *Manager) EnsureRepo(ctx context.Context) (created bool, err error) {
	_, err = m.open()
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return false, &models.GitError{Op: "open", Err: err}
	}
	if _, err := git.PlainInit(m.dir, false); err != nil {
		return false, &models.GitError{Op: "init", Err: err}
	}
	return true, nil
}

func (m *Manager) open() (*git.Repository, error) {
	return git.PlainOpenWithOptions(m.dir, &git.PlainOpenOptions{DetectDotGit: true})
}

// CommitTask stages every change under the project directory and commits it
// with a Conventional Commits message derived from task. It returns nil when
// there was nothing to commit. On failure the stage is rolled back so the
// index is left as it was found.
func (m *Manager) CommitTask(ctx context.Context, task *models.SubTask) (*CommitResult, error) {
	unborn, err := m.preflight(ctx)
	if err != nil {
		return nil, err
	}

	if out, err := m.git(ctx, "", "add", "--all", "--", "."); err != nil {
		m.unstage(ctx, unborn)
		return nil, &models.GitError{Op: "add", Output: out, Err: err, Transient: lockContention(out)}
	}

	files, err := m.StagedFiles(ctx)
	if err != nil {
		m.unstage(ctx, unborn)
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	msg := GenerateMessage(task, files)
	if err := Review(msg.String()); err != nil {
		m.unstage(ctx, unborn)
		return nil, &models.GitError{Op: "commit-message", Err: err}
	}

	args := append(m.identityArgs(ctx), "commit", "--quiet", "-F", "-")
	if out, err := m.git(ctx, msg.String(), args...); err != nil {
		m.unstage(ctx, unborn)
		return nil, &models.GitError{Op: "commit", Output: out, Err: err, Transient: lockContention(out)}
	}

	hash, err := m.git(ctx, "", "rev-parse", "HEAD")
	if err != nil {
		return nil, &models.GitError{Op: "rev-parse", Output: hash, Err: err}
	}
	return &CommitResult{Hash: strings.TrimSpace(hash), Message: msg, Files: files}, nil
}

// preflight refuses to touch a repository that is mid-merge, on a detached
// HEAD, or locked by another git process. It reports whether HEAD is unborn.
func (m *Manager) preflight(ctx context.Context) (bool, error) {
	repo, err := m.open()
	if err != nil {
		return false, &models.GitError{Op: "open", Err: err}
	}

	unborn := false
	head, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		unborn = true
	case err != nil:
		return false, &models.GitError{Op: "head", Err: err}
	case !head.Name().IsBranch():
		return false, &models.GitError{Op: "head", Err: fmt.Errorf("detached HEAD at %s", head.Hash().String()[:12])}
	}

	out, err := m.git(ctx, "", "rev-parse", "--absolute-git-dir")
	if err != nil {
		return false, &models.GitError{Op: "rev-parse", Output: out, Err: err}
	}
	gitDir := strings.TrimSpace(out)

	if _, err := os.Stat(filepath.Join(gitDir, "index.lock")); err == nil {
		return false, &models.GitError{Op: "preflight", Transient: true, Err: errors.New("index.lock present; another git process may be running")}
	}
	for _, marker := range []string{"MERGE_HEAD", "REBASE_HEAD", "rebase-merge", "rebase-apply", "CHERRY_PICK_HEAD"} {
		if _, err := os.Stat(filepath.Join(gitDir, marker)); err == nil {
			return false, &models.GitError{Op: "preflight", Err: fmt.Errorf("repository has an operation in progress (%s)", marker)}
		}
	}

	conflicts, err := m.git(ctx, "", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return false, &models.GitError{Op: "diff", Output: conflicts, Err: err}
	}
	if strings.TrimSpace(conflicts) != "" {
		return false, &models.GitError{Op: "preflight", Err: fmt.Errorf("unmerged paths: %s", strings.Join(splitLines(conflicts), ", "))}
	}
	return unborn, nil
}

func (m *Manager) unstage(ctx context.Context, unborn bool) {
	if unborn {
		m.git(ctx, "", "rm", "-r", "-q", "--cached", "--ignore-unmatch", "--", ".")
		return
	}
	m.git(ctx, "", "reset", "-q", "--", ".")
}

func (m *Manager) identityArgs(ctx context.Context) []string {
	email, _ := m.git(ctx, "", "config", "--get", "user.email")
	name, _ := m.git(ctx, "", "config", "--get", "user.name")
	var args []string
	if strings.TrimSpace(name) == "" {
		args = append(args, "-c", "user.name="+m.authorName)
	}
	if strings.TrimSpace(email) == "" {
		args = append(args, "-c", "user.email="+m.authorEmail)
	}
	return args
}

// StagedFiles lists paths staged under the project directory.
func (m *Manager) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := m.git(ctx, "", "diff", "--cached", "--name-only", "--", ".")
	if err != nil {
		return nil, &models.GitError{Op: "diff --cached", Output: out, Err: err}
	}
	return splitLines(out), nil
}

// Diff returns unstaged changes under the project directory.
func (m *Manager) Diff(ctx context.Context) (string, error) {
	out, err := m.git(ctx, "", "diff", "--", ".")
	if err != nil {
		return "", &models.GitError{Op: "diff", Output: out, Err: err}
	}
	return out, nil
}

// UntrackedFiles lists files git does not track and does not ignore, relative
// to the project directory.
func (m *Manager) UntrackedFiles(ctx context.Context) ([]string, error) {
	repo, err := m.open()
	if err != nil {
		return nil, &models.GitError{Op: "open", Err: err}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, &models.GitError{Op: "worktree", Err: err}
	}
	status, err := wt.Status()
	if err != nil {
		return nil, &models.GitError{Op: "status", Err: err}
	}

	prefix, err := m.relativeToRoot(wt.Filesystem.Root())
	if err != nil {
		return nil, &models.GitError{Op: "status", Err: err}
	}

	var files []string
	for path, s := range status {
		if s.Worktree != git.Untracked {
			continue
		}
		rel := filepath.ToSlash(path)
		if prefix != "" {
			if !strings.HasPrefix(rel, prefix+"/") {
				continue
			}
			rel = strings.TrimPrefix(rel, prefix+"/")
		}
		files = append(files, rel)
	}
	sort.Strings(files)
	return files, nil
}

func (m *Manager) relativeToRoot(root string) (string, error) {
	abs, err := filepath.Abs(m.dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// HeadHash returns the current commit hash, or "" on an unborn branch.
func (m *Manager) HeadHash() (string, error) {
	repo, err := m.open()
	if err != nil {
		return "", &models.GitError{Op: "open", Err: err}
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", &models.GitError{Op: "head", Err: err}
	}
	return head.Hash().String(), nil
}

// CommitCount returns the number of commits reachable from HEAD.
func (m *Manager) CommitCount() (int, error) {
	repo, err := m.open()
	if err != nil {
		return 0, &models.GitError{Op: "open", Err: err}
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, &models.GitError{Op: "head", Err: err}
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return 0, &models.GitError{Op: "log", Err: err}
	}
	defer iter.Close()
	n := 0
	for {
		if _, err := iter.Next(); err != nil {
			break
		}
		n++
	}
	return n, nil
}

func (m *Manager) git(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func lockContention(output string) bool {
	return strings.Contains(output, "index.lock")
}

func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
