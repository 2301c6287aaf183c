package gitmgr

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/harrison/autocoder/internal/models"
)

// MaxHeaderLength is the longest header Review accepts.
const MaxHeaderLength = 72

// typeKeywords is ordered: on a score tie the earlier type wins.
var typeKeywords = []struct {
	Type     string
	Keywords []string
}{
	{"feat", []string{"add", "create", "implement", "new", "introduce", "feature", "support", "enable"}},
	{"fix", []string{"fix", "bug", "issue", "error", "crash", "fail", "broken", "resolve", "correct", "patch"}},
	{"docs", []string{"document", "readme", "guide", "tutorial", "comment", "doc", "update docs"}},
	{"style", []string{"format", "style", "lint", "whitespace", "indent", "code style", "cosmetic"}},
	{"refactor", []string{"refactor", "restructure", "reorganize", "simplify", "optimize", "clean", "extract"}},
	{"perf", []string{"performance", "speed", "optimize", "faster", "slow", "latency", "improve performance"}},
	{"test", []string{"test", "spec", "coverage", "mock", "stub", "unit test", "integration test"}},
	{"build", []string{"build", "compile", "dependency", "npm", "pip", "maven", "gradle", "docker"}},
	{"ci", []string{"ci", "cd", "github actions", "gitlab ci", "workflow", "pipeline", "deploy"}},
	{"chore", []string{"chore", "update", "upgrade", "maintenance", "config", "settings", "version"}},
}

var breakingKeywords = []string{"breaking", "incompatible", "remove", "delete", "deprecate"}

var validTypes = map[string]bool{
	"feat": true, "fix": true, "docs": true, "style": true, "refactor": true, "perf": true,
	"test": true, "build": true, "ci": true, "chore": true, "revert": true,
}

var (
	headerPattern = regexp.MustCompile(`^(\w+)(?:\(([\w./-]+)\))?(!)?: (.+)$`)
	keywordCache  = map[string]*regexp.Regexp{}
)

func keywordPattern(kw string) *regexp.Regexp {
	if re, ok := keywordCache[kw]; ok {
		return re
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `(?:s|es|d|ed|ing)?\b`)
	keywordCache[kw] = re
	return re
}

func init() {
	for _, tk := range typeKeywords {
		for _, kw := range tk.Keywords {
			keywordPattern(kw)
		}
	}
	for _, kw := range breakingKeywords {
		keywordPattern(kw)
	}
}

// InferType picks the commit type whose keywords occur most often in text.
// Text starting with "revert" is a revert; no match means chore.
func InferType(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(lower, "revert") {
		return "revert"
	}
	best, bestScore := "chore", 0
	for _, tk := range typeKeywords {
		score := 0
		for _, kw := range tk.Keywords {
			score += len(keywordPattern(kw).FindAllStringIndex(lower, -1))
		}
		if score > bestScore {
			best, bestScore = tk.Type, score
		}
	}
	return best
}

// InferScope returns the most common top-level directory among files. Files
// at the repository root don't contribute. Ties go to the name that sorts first.
func InferScope(files []string) string {
	counts := map[string]int{}
	for _, f := range files {
		f = strings.TrimPrefix(strings.ReplaceAll(f, "\\", "/"), "./")
		i := strings.Index(f, "/")
		if i <= 0 {
			continue
		}
		dir := f[:i]
		if strings.HasPrefix(dir, ".") {
			dir = strings.TrimPrefix(dir, ".")
		}
		if dir == "" {
			continue
		}
		counts[dir]++
	}
	var dirs []string
	for d := range counts {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool {
		if counts[dirs[i]] != counts[dirs[j]] {
			return counts[dirs[i]] > counts[dirs[j]]
		}
		return dirs[i] < dirs[j]
	})
	if len(dirs) == 0 {
		return ""
	}
	return sanitizeScope(dirs[0])
}

var scopeInvalid = regexp.MustCompile(`[^\w./-]+`)

func sanitizeScope(s string) string {
	return strings.Trim(scopeInvalid.ReplaceAllString(s, "-"), "-")
}

// DetectBreaking returns a footer note when text announces an incompatible
// change, or "".
func DetectBreaking(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range breakingKeywords {
		loc := keywordPattern(kw).FindStringIndex(lower)
		if loc == nil {
			continue
		}
		return sentenceAround(text, loc[0])
	}
	return ""
}

func sentenceAround(text string, at int) string {
	start := strings.LastIndexAny(text[:at], ".!?\n") + 1
	end := strings.IndexAny(text[at:], ".!?\n")
	if end < 0 {
		end = len(text)
	} else {
		end += at
	}
	return strings.TrimSpace(text[start:end])
}

// GenerateMessage builds the commit message for a completed task from its
// own title and description and the staged files.
func GenerateMessage(task *models.SubTask, files []string) *models.CommitMessage {
	intent := task.Title + "\n" + task.Description
	msg := &models.CommitMessage{
		Type:     InferType(intent),
		Scope:    InferScope(files),
		Breaking: DetectBreaking(intent),
		TaskID:   task.ID,
	}
	if len(msg.Scope) > 24 {
		msg.Scope = ""
	}

	prefix := len(msg.Type) + len(": ")
	if msg.Scope != "" {
		prefix += len(msg.Scope) + 2
	}
	if msg.Breaking != "" {
		prefix++
	}
	msg.Subject = summarize(task.Title, MaxHeaderLength-prefix)
	if msg.Subject == "" {
		msg.Subject = summarize(task.Description, MaxHeaderLength-prefix)
	}
	if msg.Subject == "" {
		msg.Subject = "complete task " + task.ID
	}

	if desc := strings.TrimSpace(task.Description); desc != "" && desc != strings.TrimSpace(task.Title) {
		msg.Body = wrap(desc, MaxHeaderLength)
	}
	return msg
}

// summarize makes a lower-cased, period-free single line no longer than max
// runes, cut on a word boundary.
func summarize(s string, max int) string {
	s = strings.TrimSpace(strings.SplitN(strings.TrimSpace(s), "\n", 2)[0])
	s = strings.TrimRight(s, ". ")
	if s == "" || max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > 1 && !isAcronym(r) {
		r[0] = []rune(strings.ToLower(string(r[0])))[0]
	}
	if len(r) <= max {
		return string(r)
	}
	cut := string(r[:max])
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-.")
}

func isAcronym(r []rune) bool {
	return len(r) > 1 && r[1] >= 'A' && r[1] <= 'Z'
}

func wrap(text string, width int) string {
	var out []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			if len(line)+1+len(w) > width {
				out = append(out, line)
				line = w
				continue
			}
			line += " " + w
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Review checks a full commit message against the Conventional Commits
// header grammar and returns every problem found.
func Review(message string) error {
	header := strings.SplitN(message, "\n", 2)[0]
	var problems []error

	m := headerPattern.FindStringSubmatch(header)
	if m == nil {
		return fmt.Errorf("header %q does not match type(scope): subject", header)
	}
	if !validTypes[m[1]] {
		problems = append(problems, fmt.Errorf("unknown commit type %q", m[1]))
	}
	if len([]rune(header)) > MaxHeaderLength {
		problems = append(problems, fmt.Errorf("header is %d characters, limit is %d", len([]rune(header)), MaxHeaderLength))
	}
	if strings.HasSuffix(m[4], ".") {
		problems = append(problems, errors.New("subject ends with a period"))
	}
	if rest := strings.SplitN(message, "\n", 3); len(rest) > 1 && strings.TrimSpace(rest[1]) != "" {
		problems = append(problems, errors.New("header must be followed by a blank line"))
	}
	return errors.Join(problems...)
}
