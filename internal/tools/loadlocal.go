package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"go-analyst/pkg/config"
)

const (
	formatCSV   = "csv"
	formatJSON  = "json"
	formatJSONL = "jsonl"
	formatText  = "text"
)

// LoadLocal reads tabular or text files from the data directory. Paths are
// relative to that directory and may be doublestar globs.
type LoadLocal struct {
	fsys    fs.FS
	maxRows int
}

func NewLoadLocal(cfg config.Tools) *LoadLocal {
	return newLoadLocal(os.DirFS(cfg.DataDir), cfg.MaxRows)
}

func newLoadLocal(fsys fs.FS, maxRows int) *LoadLocal {
	return &LoadLocal{fsys: fsys, maxRows: maxRows}
}

func (l *LoadLocal) Name() string {
	return "load_local"
}

func (l *LoadLocal) Description() string {
	return "Load a CSV, JSON, JSON-lines or text file (or a glob of them) from the local data directory."
}

func (l *LoadLocal) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string", "description": "file path or glob such as sales/**/*.csv, relative to the data directory"},
			"format": map[string]any{"type": "string", "enum": []string{formatCSV, formatJSON, formatJSONL, formatText}},
			"limit":  map[string]any{"type": "integer", "description": "maximum number of rows"},
		},
		"required": []string{"path"},
	}
}

type dataset struct {
	Path      string           `json:"path"`
	Format    string           `json:"format"`
	Files     []string         `json:"files"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	Text      string           `json:"text,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
}

func (l *LoadLocal) Execute(ctx context.Context, params map[string]any) (any, error) {
	p, err := stringParam(params, "path", true)
	if err != nil {
		return nil, err
	}
	format, err := stringParam(params, "format", false)
	if err != nil {
		return nil, err
	}
	limit, err := intParam(params, "limit", l.maxRows)
	if err != nil {
		return nil, err
	}
	if l.maxRows > 0 && (limit <= 0 || limit > l.maxRows) {
		limit = l.maxRows
	}

	name := path.Clean(strings.TrimPrefix(p, "./"))
	if !fs.ValidPath(name) {
		return nil, invalid("path %q escapes the data directory", p)
	}
	files, err := l.match(name)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = formatOf(files[0])
	}

	out := dataset{Path: p, Format: format, Files: files}
	var ordered []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := fs.ReadFile(l.fsys, f)
		if err != nil {
			return nil, invalid("read %s: %v", f, err)
		}
		if format == formatText {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(b)
			continue
		}

		rows, cols, err := decodeRows(format, b)
		if err != nil {
			return nil, invalid("decode %s: %v", f, err)
		}
		ordered = append(ordered, cols...)
		if len(files) > 1 {
			for _, r := range rows {
				r["_file"] = f
			}
		}
		out.Rows = append(out.Rows, rows...)
		if limit > 0 && len(out.Rows) >= limit {
			out.Truncated = len(out.Rows) > limit
			out.Rows = out.Rows[:limit]
			break
		}
	}
	if format != formatText {
		if out.Rows == nil {
			out.Rows = []map[string]any{}
		}
		out.Columns = columnsOf(out.Rows, ordered)
	}
	return out, nil
}

func (l *LoadLocal) match(name string) ([]string, error) {
	if !strings.ContainsAny(name, "*?[{") {
		info, err := fs.Stat(l.fsys, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, invalid("file %q does not exist", name)
			}
			return nil, invalid("stat %s: %v", name, err)
		}
		if info.IsDir() {
			return nil, invalid("%q is a directory", name)
		}
		return []string{name}, nil
	}

	if !doublestar.ValidatePattern(name) {
		return nil, invalid("invalid glob %q", name)
	}
	matches, err := doublestar.Glob(l.fsys, name, doublestar.WithFilesOnly())
	if err != nil {
		return nil, invalid("glob %q: %v", name, err)
	}
	if len(matches) == 0 {
		return nil, invalid("no files match %q", name)
	}
	return matches, nil
}

func formatOf(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return formatCSV
	case ".json":
		return formatJSON
	case ".jsonl", ".ndjson":
		return formatJSONL
	default:
		return formatText
	}
}

func decodeRows(format string, b []byte) ([]map[string]any, []string, error) {
	switch format {
	case formatCSV:
		return decodeCSV(b)
	case formatJSON:
		rows, err := decodeJSON(b)
		return rows, nil, err
	case formatJSONL:
		rows, err := decodeJSONL(b)
		return rows, nil, err
	default:
		return nil, nil, invalid("unknown format %q", format)
	}
}

// decodeCSV reads a header row and converts numeric cells to numbers.
func decodeCSV(b []byte) ([]map[string]any, []string, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return []map[string]any{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]any
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(rec) {
				row[col] = nil
				continue
			}
			row[col] = csvCell(rec[i])
		}
		rows = append(rows, row)
	}
	return rows, header, nil
}

func csvCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func decodeJSON(b []byte) ([]map[string]any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []any:
		rows := make([]map[string]any, 0, len(t))
		for _, e := range t {
			row, ok := e.(map[string]any)
			if !ok {
				row = map[string]any{"value": e}
			}
			rows = append(rows, row)
		}
		return rows, nil
	case map[string]any:
		if inner, ok := t["rows"].([]any); ok {
			b, _ := json.Marshal(inner)
			return decodeJSON(b)
		}
		return []map[string]any{t}, nil
	default:
		return []map[string]any{{"value": t}}, nil
	}
}

func decodeJSONL(b []byte) ([]map[string]any, error) {
	var rows []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, sc.Err()
}
