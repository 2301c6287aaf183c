package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autocoder/internal/models"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
	}
}

type fakeGit struct {
	diff      string
	untracked []string
}

func (f *fakeGit) Diff(ctx context.Context) (string, error) { return f.diff, nil }

func (f *fakeGit) UntrackedFiles(ctx context.Context) ([]string, error) { return f.untracked, nil }

func testOptions() Options {
	return Options{
		Exclude:      []string{"node_modules/**", "**/node_modules/**"},
		MaxFileBytes: 1024,
		Tokenizer:    TokenizerEstimate,
		StateDir:     ".autocoder",
	}
}

func TestScanFilters(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"calc/add.go":            "package calc\n",
		"README.md":              "# calc\n",
		"node_modules/x/index.js": "module.exports = 1\n",
		".autocoder/tasks.json":  "{}",
		"big.txt":                strings.Repeat("x", 2048),
		".git/HEAD":              "ref: refs/heads/main\n",
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "logo.png"), []byte{0x89, 'P', 'N', 'G', 0, 0, 1}, 0644))

	res, err := Scan(root, ScanOptions{
		Exclude:      []string{"node_modules/**", ".autocoder/**"},
		SkipDirs:     SkipDirs,
		MaxFileBytes: 1024,
	})
	require.NoError(t, err)
	var paths []string
	for _, f := range res.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"README.md", "calc/add.go"}, paths)
	assert.Equal(t, 2, res.Skipped)
}

func TestScanInclude(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/one.go":    "package a\n",
		"a/b/two.go":  "package b\n",
		"a/notes.txt": "hi\n",
	})
	res, err := Scan(root, ScanOptions{Include: []string{"**.go"}})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "a/b/two.go", res.Files[0].Path)
	assert.Equal(t, "a/one.go", res.Files[1].Path)

	res, err = Scan(root, ScanOptions{Include: []string{"a/*.go"}})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "a/one.go", res.Files[0].Path)
}

func TestScanErrors(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "missing"), ScanOptions{})
	assert.Error(t, err)

	_, err = Scan(t.TempDir(), ScanOptions{Exclude: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestGatherRanksReferencedFilesFirst(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"calc/add.go":           "package calc\n\nfunc Add(a, b int) int { return a + b }\n",
		"calc/sub.go":           "package calc\n",
		"README.md":             "# calc\n",
		".autocoder/tasks.json": "{}",
	})
	git := &fakeGit{diff: "diff --git a/calc/add.go b/calc/add.go\n", untracked: []string{"calc/sub.go", ".autocoder/tasks.json"}}
	g := NewGatherer(root, testOptions(), git)

	task := &models.SubTask{ID: "2", Title: "Implement subtraction", Description: "Edit calc/sub.go", TestCommand: "go test ./calc"}
	c, err := g.Gather(context.Background(), task)
	require.NoError(t, err)

	var paths []string
	for _, f := range c.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"calc/sub.go", "calc/add.go", "README.md"}, paths)
	assert.Greater(t, c.Files[0].Score, c.Files[1].Score)
	assert.Equal(t, []string{"calc/sub.go"}, c.Untracked)
	assert.Contains(t, c.Diff, "calc/add.go")
	assert.Positive(t, c.Tokens)

	rendered := c.Render()
	assert.Contains(t, rendered, "### calc/sub.go")
	assert.Contains(t, rendered, "Untracked files:\n- calc/sub.go")
	assert.Contains(t, rendered, "Uncommitted changes:")
	assert.NotContains(t, rendered, "tasks.json")
}

func TestGatherRespectsTokenBudget(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"calc/sub.go": "package calc\n",
		"zzz/big.txt": strings.Repeat("word ", 200),
	})
	opts := testOptions()
	opts.MaxTokens = 50
	g := NewGatherer(root, opts, nil)

	c, err := g.Gather(context.Background(), &models.SubTask{ID: "1", Title: "calc/sub.go"})
	require.NoError(t, err)
	require.Len(t, c.Files, 1)
	assert.Equal(t, "calc/sub.go", c.Files[0].Path)
	assert.Equal(t, []string{"zzz/big.txt"}, c.Omitted)
	assert.LessOrEqual(t, c.Tokens, 50)
	assert.Contains(t, c.Render(), "Files not shown (context budget):\n- zzz/big.txt")
}

func TestGatherCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGatherer(root, testOptions(), nil).Gather(ctx, &models.SubTask{ID: "1", Title: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotChanged(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"seen.txt": "v1", "other.txt": "o"})
	opts := testOptions()
	opts.MaxTokens = 1 // other.txt and seen.txt can't both fit
	g := NewGatherer(root, opts, nil)
	c, err := g.Gather(context.Background(), &models.SubTask{ID: "1", Title: "seen.txt"})
	require.NoError(t, err)
	snap := c.Snapshot

	changed, err := snap.Changed(root, "seen.txt")
	require.NoError(t, err)
	assert.False(t, changed)

	writeTree(t, root, map[string]string{"seen.txt": "v2"})
	changed, err = snap.Changed(root, "seen.txt")
	require.NoError(t, err)
	assert.True(t, changed)

	// unseen before, created later
	time.Sleep(10 * time.Millisecond)
	writeTree(t, root, map[string]string{"late.txt": "x"})
	changed, err = snap.Changed(root, "late.txt")
	require.NoError(t, err)
	assert.True(t, changed)

	// deleted after gathering
	require.NoError(t, os.Remove(filepath.Join(root, "other.txt")))
	changed, err = snap.Changed(root, "other.txt")
	require.NoError(t, err)
	assert.True(t, changed)

	// never existed
	changed, err = snap.Changed(root, "nope.txt")
	require.NoError(t, err)
	assert.False(t, changed)

	var nilSnap *Snapshot
	changed, err = nilSnap.Changed(root, "seen.txt")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("   "))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 3, EstimateTokens("a b c"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
	assert.Equal(t, EstimateTokens("abc def"), NewTokenCounter("unknown").Count("abc def"))
}
