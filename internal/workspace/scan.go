package workspace

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// sniffLen is how much of a file is inspected for NUL bytes.
const sniffLen = 8000

// ScanOptions configures the directory scanning behavior
type ScanOptions struct {
	// Include limits results to paths matching one of these globs (empty = all)
	Include []string
	// Exclude drops paths matching any of these globs; directories are pruned
	Exclude []string
	// SkipDirs are directory names skipped at any depth
	SkipDirs []string
	// MaxFileBytes skips larger files (0 = no limit)
	MaxFileBytes int64
}

// ScannedFile is one candidate file, relative to the scan root.
type ScannedFile struct {
	Path    string // slash-separated, relative to root
	Size    int64
	ModTime time.Time
}

// ScanResult contains the results of a directory scan
type ScanResult struct {
	// Files are the matched files, sorted by path
	Files []ScannedFile
	// Skipped counts binary and oversized files
	Skipped int
	// Errors contains any non-fatal errors encountered during scanning
	Errors []error
}

// Matcher holds compiled include and exclude globs. Patterns use "/" as the
// separator, so "*" stays within one segment and "**" crosses segments.
type Matcher struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewMatcher compiles the patterns.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range include {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		m.include = append(m.include, g)
	}
	for _, p := range exclude {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		m.exclude = append(m.exclude, g)
	}
	return m, nil
}

// Excluded reports whether rel matches an exclude pattern.
func (m *Matcher) Excluded(rel string) bool {
	for _, g := range m.exclude {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Included reports whether rel passes the include list.
func (m *Matcher) Included(rel string) bool {
	if len(m.include) == 0 {
		return true
	}
	for _, g := range m.include {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Scan walks root and returns the text files that pass opts.
func Scan(root string, opts ScanOptions) (*ScanResult, error) {
	// Validate directory exists
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}

	matcher, err := NewMatcher(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}

	skipDirs := make(map[string]bool, len(opts.SkipDirs))
	for _, d := range opts.SkipDirs {
		skipDirs[d] = true
	}

	result := &ScanResult{}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("error accessing %s: %w", path, err))
			return nil // Continue walking
		}

		// Skip the root directory itself
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			result.Errors = append(result.Errors, err)
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if skipDirs[d.Name()] || matcher.Excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks and devices are never context
		if !d.Type().IsRegular() {
			return nil
		}
		if matcher.Excluded(rel) || !matcher.Included(rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("error reading %s: %w", path, err))
			return nil
		}
		if opts.MaxFileBytes > 0 && fi.Size() > opts.MaxFileBytes {
			result.Skipped++
			return nil
		}
		binary, err := isBinary(path)
		if err != nil {
			result.Errors = append(result.Errors, err)
			return nil
		}
		if binary {
			result.Skipped++
			return nil
		}

		result.Files = append(result.Files, ScannedFile{Path: rel, Size: fi.Size(), ModTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	// Sort files for consistent output
	sort.Slice(result.Files, func(i, j int) bool { return result.Files[i].Path < result.Files[j].Path })
	return result, nil
}

// isBinary reports whether the file's first bytes contain a NUL.
func isBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

// pathWords splits a relative path into lowercase words.
func pathWords(rel string) []string {
	return strings.FieldsFunc(strings.ToLower(rel), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
