package gitmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autocoder/internal/models"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Add user login endpoint", "feat"},
		{"Fix crash when config is missing", "fix"},
		{"Write README guide for installation", "docs"},
		{"Refactor parser and extract tokenizer", "refactor"},
		{"Add unit tests and mocks for store coverage", "test"},
		{"Dockerfile and gradle build", "build"},
		{"Set up CI pipeline workflow", "ci"},
		{"Revert the session change", "revert"},
		{"Bump the thing", "chore"},
		{"Upgrade version settings", "chore"},
		{"circular imports in the city module", "chore"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, InferType(tt.text))
		})
	}
}

func TestInferTypeTieGoesToEarlierType(t *testing.T) {
	// one feat keyword, one fix keyword
	assert.Equal(t, "feat", InferType("add bug"))
}

func TestInferScope(t *testing.T) {
	assert.Equal(t, "api", InferScope([]string{"api/a.go", "api/b.go", "web/index.html", "main.go"}))
	assert.Equal(t, "", InferScope([]string{"main.go", "go.mod"}))
	assert.Equal(t, "api", InferScope([]string{"web/x", "api/y"}))
	assert.Equal(t, "github", InferScope([]string{".github/workflows/ci.yml"}))
	assert.Equal(t, "my-lib", InferScope([]string{"my lib/x.py"}))
}

func TestDetectBreaking(t *testing.T) {
	assert.Equal(t, "", DetectBreaking("Add login. Keep the old API."))
	assert.Equal(t, "Remove the v1 routes", DetectBreaking("Add login. Remove the v1 routes. Done"))
	assert.Equal(t, "deprecated flag is gone", DetectBreaking("deprecated flag is gone"))
}

func TestGenerateMessage(t *testing.T) {
	task := &models.SubTask{
		ID:          "2-1",
		Title:       "Implement the token bucket limiter.",
		Description: "Create a rate limiter in pkg/limit that supports burst capacity and refill rate.",
	}
	msg := GenerateMessage(task, []string{"pkg/limit/limit.go", "pkg/limit/limit_test.go", "go.mod"})

	assert.Equal(t, "feat", msg.Type)
	assert.Equal(t, "pkg", msg.Scope)
	assert.Equal(t, "implement the token bucket limiter", msg.Subject)
	assert.Equal(t, "", msg.Breaking)
	assert.Equal(t, "2-1", msg.TaskID)
	assert.Contains(t, msg.Body, "rate limiter")
	require.NoError(t, Review(msg.String()))
	assert.True(t, strings.HasPrefix(msg.String(), "feat(pkg): implement the token bucket limiter\n\n"))
	assert.Contains(t, msg.String(), "\nTask-Id: 2-1\n")
}

func TestGenerateMessageTruncatesLongTitles(t *testing.T) {
	task := &models.SubTask{
		ID:    "1",
		Title: "Fix the extremely long and winding title that keeps going well past any reasonable header length limit",
	}
	msg := GenerateMessage(task, []string{"internal/server/handler.go"})

	require.NoError(t, Review(msg.String()))
	assert.LessOrEqual(t, len(msg.Header()), MaxHeaderLength)
	assert.False(t, strings.HasSuffix(msg.Subject, " "))
	assert.Empty(t, msg.Body)
}

func TestGenerateMessageFallsBackWhenTitleEmpty(t *testing.T) {
	msg := GenerateMessage(&models.SubTask{ID: "3"}, nil)
	assert.Equal(t, "chore: complete task 3", msg.Header())

	msg = GenerateMessage(&models.SubTask{ID: "3", Description: "Document the API."}, nil)
	assert.Equal(t, "docs: document the API", msg.Header())
}

func TestGenerateMessageBreaking(t *testing.T) {
	task := &models.SubTask{ID: "4", Title: "Remove deprecated config loader", Description: "Drops YAML v1 support."}
	msg := GenerateMessage(task, nil)
	assert.NotEmpty(t, msg.Breaking)
	assert.Contains(t, msg.Header(), "!: ")
	assert.Contains(t, msg.String(), "BREAKING CHANGE: Remove deprecated config loader")
	require.NoError(t, Review(msg.String()))
}

func TestReview(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantErr string
	}{
		{name: "valid", message: "fix(api): handle nil body\n"},
		{name: "valid with body", message: "feat: add x\n\nbody text\n"},
		{name: "breaking marker", message: "refactor(core)!: drop v1\n"},
		{name: "no type", message: "handle nil body\n", wantErr: "does not match"},
		{name: "unknown type", message: "feature: add x\n", wantErr: "unknown commit type"},
		{name: "trailing period", message: "fix: handle nil.\n", wantErr: "period"},
		{name: "too long", message: "fix: " + strings.Repeat("x", 80) + "\n", wantErr: "limit is 72"},
		{name: "no blank line", message: "fix: a\nbody\n", wantErr: "blank line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Review(tt.message)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
