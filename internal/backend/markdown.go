package backend

import (
	"bytes"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/harrison/autocoder/internal/models"
)

var (
	fileMarker   = regexp.MustCompile(`(?m)^\s*FILE:\s*(\S+)\s*$`)
	deleteMarker = regexp.MustCompile(`(?m)^\s*DELETE:\s*(\S+)\s*$`)
)

var markdown = goldmark.New()

// ParseMarkdownEdits reads the fallback response format:
//
//	FILE: path/to/file
//	```lang
//	content
//	```
//	DELETE: path/to/old
//
// The marker may be plain text, bold, a heading, or wrapped in backticks.
func ParseMarkdownEdits(raw string) ([]models.FileEdit, error) {
	source := []byte(raw)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var (
		edits   []models.FileEdit
		pending string
	)
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if pending == "" {
				continue
			}
			edits = append(edits, models.FileEdit{
				Path:    pending,
				Action:  models.EditWrite,
				Content: blockContent(node, source),
			})
			pending = ""
		case *ast.Paragraph, *ast.Heading:
			label := nodeText(node, source)
			for _, m := range deleteMarker.FindAllStringSubmatch(label, -1) {
				edits = append(edits, models.FileEdit{Path: m[1], Action: models.EditDelete})
			}
			if ms := fileMarker.FindAllStringSubmatch(label, -1); len(ms) > 0 {
				pending = ms[len(ms)-1][1]
			}
		}
	}
	return edits, nil
}

func blockContent(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

// nodeText flattens inline children, keeping soft line breaks.
func nodeText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.CodeSpan:
			for g := t.FirstChild(); g != nil; g = g.NextSibling() {
				if txt, ok := g.(*ast.Text); ok {
					buf.Write(txt.Segment.Value(source))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}
