package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/harrison/autocoder/internal/models"
)

// ExtractJSON returns the substring from the first '{' to the last '}', or
// "" when there is none.
func ExtractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return ""
}

// flexID accepts "1-2" as well as a bare number like 3.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or integer, got %s", b)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be a non-negative integer, got %s", n)
	}
	*f = flexID(n.String())
	return nil
}

type wireTask struct {
	ID          flexID `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	TestCommand string `json:"test_command"`
	Status      string `json:"status,omitempty"` // tolerated, always reset to pending
}

type wirePlan struct {
	Tasks []wireTask `json:"tasks"`
}

type wireEditSet struct {
	Edits   []models.FileEdit `json:"edits"`
	Summary string            `json:"summary,omitempty"`
}

// ParsePlan decodes a plan or breakdown response.
func ParsePlan(raw string) ([]models.SubTaskSpec, error) {
	var plan wirePlan
	if err := decodeResponse(raw, &plan); err != nil {
		return nil, err
	}
	if plan.Tasks == nil {
		return nil, errors.New(`response has no "tasks" array`)
	}
	specs := make([]models.SubTaskSpec, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		specs = append(specs, models.SubTaskSpec{
			ID:          string(t.ID),
			Title:       strings.TrimSpace(t.Title),
			Description: strings.TrimSpace(t.Description),
			TestCommand: strings.TrimSpace(t.TestCommand),
		})
	}
	return specs, nil
}

// ParseEdits decodes a coder response. JSON is tried first; the FILE: block
// format is the fallback.
func ParseEdits(raw string) (*models.EditSet, error) {
	var wire wireEditSet
	jsonErr := decodeResponse(raw, &wire)
	if jsonErr == nil && wire.Edits != nil {
		set := &models.EditSet{Edits: wire.Edits, Summary: wire.Summary}
		if err := set.Validate(); err != nil {
			return nil, err
		}
		return set, nil
	}

	edits, err := ParseMarkdownEdits(raw)
	if err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		if jsonErr == nil {
			jsonErr = errors.New(`response has no "edits" array`)
		}
		return nil, fmt.Errorf("no edits found: %w", jsonErr)
	}
	set := &models.EditSet{Edits: edits}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// decodeResponse extracts the JSON object from raw, repairs it if it does
// not parse, and decodes it rejecting unknown fields.
func decodeResponse(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return ErrEmptyResponse
	}
	candidate := ExtractJSON(raw)
	if candidate == "" {
		return errors.New("response contains no JSON object")
	}
	err := decodeStrict(candidate, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) && !strings.Contains(err.Error(), "unexpected EOF") {
		return err
	}
	repaired, rerr := jsonrepair.JSONRepair(candidate)
	if rerr != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := decodeStrict(repaired, v); err != nil {
		return fmt.Errorf("malformed JSON after repair: %w", err)
	}
	return nil
}

func decodeStrict(data string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}
