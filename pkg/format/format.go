// Package format renders a run's answer as json, markdown, html or text.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"go-analyst/pkg/models"
)

type Kind string

const (
	JSON     Kind = "json"
	Markdown Kind = "markdown"
	HTML     Kind = "html"
	Text     Kind = "text"
)

// maxTableRows caps the rows shown by the table renderings.
const maxTableRows = 10

// Parse accepts an empty string as JSON.
func Parse(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return JSON, nil
	case JSON, Markdown, HTML, Text:
		return k, nil
	default:
		return "", fmt.Errorf("unknown format %q, want json, markdown, html or text", s)
	}
}

// Formatted is a rendered answer. Data is the answer itself for JSON and a
// string for every other kind.
type Formatted struct {
	RequestID string           `json:"request_id"`
	Status    models.RunStatus `json:"status"`
	Format    Kind             `json:"format"`
	Data      any              `json:"data"`
	Error     string           `json:"error,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Result renders the answer of res in kind.
func Result(res *models.Result, kind Kind) (Formatted, error) {
	out := Formatted{
		RequestID: res.RequestID,
		Status:    res.Status,
		Format:    kind,
		Metadata: map[string]any{
			"plan_id": res.PlanID,
			"steps":   len(res.Steps),
			"replans": len(res.Replans),
		},
	}
	if res.Failure != nil {
		out.Error = res.Failure.Error()
	}
	answer := res.Answer()

	switch kind {
	case JSON:
		out.Data = answer
	case Markdown:
		out.Data = toMarkdown(answer)
	case HTML:
		h, err := toHTML(answer)
		if err != nil {
			return Formatted{}, err
		}
		out.Data = h
	case Text:
		out.Data = toText(answer)
	default:
		return Formatted{}, fmt.Errorf("unknown format %q", kind)
	}
	return out, nil
}

// table finds a list of objects in v: v itself, or its rows/result/data
// field.
func table(v any) ([]map[string]any, bool) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return nil, false
		}
		rows := make([]map[string]any, 0, len(t))
		for _, e := range t {
			row, ok := e.(map[string]any)
			if !ok {
				return nil, false
			}
			rows = append(rows, row)
		}
		return rows, true
	case map[string]any:
		for _, key := range []string{"rows", "result", "data"} {
			if inner, ok := t[key]; ok {
				if rows, ok := table(inner); ok {
					return rows, true
				}
			}
		}
	}
	return nil, false
}

func columns(rows []map[string]any) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range rows {
		var extra []string
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		cols = append(cols, extra...)
	}
	return cols
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func indented(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func toMarkdown(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	rows, ok := table(v)
	if !ok {
		return "```json\n" + indented(v) + "\n```\n"
	}

	cols := columns(rows)
	var b strings.Builder
	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, r := range rows[:min(len(rows), maxTableRows)] {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = strings.ReplaceAll(cell(r[c]), "|", `\|`)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if len(rows) > maxTableRows {
		fmt.Fprintf(&b, "\n*... and %d more rows*\n", len(rows)-maxTableRows)
	}
	return b.String()
}

func toHTML(v any) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(toMarkdown(v)), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return bluemonday.UGCPolicy().Sanitize(buf.String()), nil
}

func toText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	rows, ok := table(v)
	if !ok {
		return indented(v)
	}

	cols := columns(rows)
	var b strings.Builder
	b.WriteString(strings.Join(cols, "\t") + "\n")
	for _, r := range rows[:min(len(rows), maxTableRows)] {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = cell(r[c])
		}
		b.WriteString(strings.Join(cells, "\t") + "\n")
	}
	if len(rows) > maxTableRows {
		fmt.Fprintf(&b, "\n... and %d more rows\n", len(rows)-maxTableRows)
	}
	return b.String()
}
