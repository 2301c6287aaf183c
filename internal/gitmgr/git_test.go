package gitmgr

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autocoder/internal/models"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func newRepo(t *testing.T) (*Manager, string) {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	m := New(dir, WithAuthor("Test Bot", "bot@example.com"))
	created, err := m.EnsureRepo(context.Background())
	require.NoError(t, err)
	require.True(t, created)
	return m, dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func gitOut(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

func task(id, title string) *models.SubTask {
	return &models.SubTask{ID: id, Title: title, Description: title + " with tests"}
}

func TestEnsureRepoIsIdempotent(t *testing.T) {
	m, _ := newRepo(t)
	created, err := m.EnsureRepo(context.Background())
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCommitTask(t *testing.T) {
	m, dir := newRepo(t)
	ctx := context.Background()
	writeFile(t, dir, "calc/add.go", "package calc\n")
	writeFile(t, dir, "calc/add_test.go", "package calc\n")

	res, err := m.CommitTask(ctx, task("1", "Add addition helper"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Hash, 40)
	assert.Equal(t, []string{"calc/add.go", "calc/add_test.go"}, res.Files)

	assert.Equal(t, "feat(calc): add addition helper", gitOut(t, dir, "log", "-1", "--format=%s"))
	assert.Contains(t, gitOut(t, dir, "log", "-1", "--format=%B"), "Task-Id: 1")
	assert.Equal(t, "", gitOut(t, dir, "status", "--porcelain"))

	head, err := m.HeadHash()
	require.NoError(t, err)
	assert.Equal(t, res.Hash, head)

	count, err := m.CommitCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCommitTaskNothingToCommit(t *testing.T) {
	m, dir := newRepo(t)
	ctx := context.Background()
	writeFile(t, dir, "a.txt", "a")
	_, err := m.CommitTask(ctx, task("1", "Create a"))
	require.NoError(t, err)

	res, err := m.CommitTask(ctx, task("2", "Nothing"))
	require.NoError(t, err)
	assert.Nil(t, res)

	count, err := m.CommitCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCommitTaskIndexLockIsTransient(t *testing.T) {
	m, dir := newRepo(t)
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, ".git/index.lock", "")

	_, err := m.CommitTask(context.Background(), task("1", "Add a"))
	require.Error(t, err)

	var gerr *models.GitError
	require.ErrorAs(t, err, &gerr)
	assert.True(t, gerr.Transient)

	require.NoError(t, os.Remove(filepath.Join(dir, ".git", "index.lock")))
	assert.Equal(t, "?? a.txt", gitOut(t, dir, "status", "--porcelain"))
}

func TestCommitTaskDetachedHead(t *testing.T) {
	m, dir := newRepo(t)
	ctx := context.Background()
	writeFile(t, dir, "a.txt", "a")
	res, err := m.CommitTask(ctx, task("1", "Add a"))
	require.NoError(t, err)

	gitOut(t, dir, "checkout", "--quiet", "--detach", res.Hash)
	writeFile(t, dir, "b.txt", "b")

	_, err = m.CommitTask(ctx, task("2", "Add b"))
	require.Error(t, err)
	var gerr *models.GitError
	require.ErrorAs(t, err, &gerr)
	assert.False(t, gerr.Transient)
	assert.Contains(t, err.Error(), "detached HEAD")
}

func TestCommitTaskRollsBackStageOnHookFailure(t *testing.T) {
	m, dir := newRepo(t)
	ctx := context.Background()
	writeFile(t, dir, "a.txt", "a")
	_, err := m.CommitTask(ctx, task("1", "Add a"))
	require.NoError(t, err)

	hook := filepath.Join(dir, ".git", "hooks", "pre-commit")
	require.NoError(t, os.MkdirAll(filepath.Dir(hook), 0755))
	require.NoError(t, os.WriteFile(hook, []byte("#!/bin/sh\necho rejected\nexit 1\n"), 0755))

	writeFile(t, dir, "a.txt", "changed")
	writeFile(t, dir, "b.txt", "b")

	_, err = m.CommitTask(ctx, task("2", "Change a"))
	require.Error(t, err)
	assert.True(t, models.IsGitError(err))
	assert.Contains(t, err.Error(), "rejected")

	staged, err := m.StagedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.Equal(t, "M a.txt\n?? b.txt", gitOut(t, dir, "status", "--porcelain"))
}

func TestDiffAndUntrackedFiles(t *testing.T) {
	m, dir := newRepo(t)
	ctx := context.Background()
	writeFile(t, dir, "tracked.txt", "one\n")
	writeFile(t, dir, ".gitignore", "ignored/\n")
	_, err := m.CommitTask(ctx, task("1", "Add tracked"))
	require.NoError(t, err)

	writeFile(t, dir, "tracked.txt", "two\n")
	writeFile(t, dir, "new/file.txt", "x")
	writeFile(t, dir, "ignored/skip.txt", "x")

	diff, err := m.Diff(ctx)
	require.NoError(t, err)
	assert.Contains(t, diff, "-one")
	assert.Contains(t, diff, "+two")

	untracked, err := m.UntrackedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"new/file.txt"}, untracked)

	// read-only: nothing got staged
	staged, err := m.StagedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)
}
