package tools

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLQuery loads rows into a scratch in-memory SQLite table and runs a
// read-only query over them.
type SQLQuery struct {
	maxRows int
}

func NewSQLQuery(maxRows int) *SQLQuery {
	return &SQLQuery{maxRows: maxRows}
}

func (q *SQLQuery) Name() string {
	return "sql_query"
}

func (q *SQLQuery) Description() string {
	return "Run a read-only SQL query (SQLite dialect) over rows loaded into a table."
}

func (q *SQLQuery) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rows":  map[string]any{"type": "array", "description": "list of objects, usually a reference such as $(.step_1.rows)"},
			"table": map[string]any{"type": "string", "description": "table name, default data"},
			"query": map[string]any{"type": "string", "description": "SELECT statement"},
		},
		"required": []string{"rows", "query"},
	}
}

type queryResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated,omitempty"`
}

func (q *SQLQuery) Execute(ctx context.Context, params map[string]any) (any, error) {
	rows, err := rowsParam(params, "rows")
	if err != nil {
		return nil, err
	}
	query, err := stringParam(params, "query", true)
	if err != nil {
		return nil, err
	}
	table, err := stringParam(params, "table", false)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = "data"
	}
	if !identPattern.MatchString(table) {
		return nil, invalid("table name %q is not a plain identifier", table)
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, internal("open scratch database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := load(ctx, db, table, rows); err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, internal("lock scratch database: %v", err)
	}

	res, err := db.QueryContext(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, invalid("query: %v", err)
	}
	defer res.Close()

	cols, err := res.Columns()
	if err != nil {
		return nil, internal("columns: %v", err)
	}
	out := queryResult{Columns: cols, Rows: []map[string]any{}}
	for res.Next() {
		if q.maxRows > 0 && len(out.Rows) >= q.maxRows {
			out.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := res.Scan(ptrs...); err != nil {
			return nil, internal("scan: %v", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out.Rows = append(out.Rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, invalid("query: %v", err)
	}
	return out, nil
}

// load creates table with one column per key. A column whose values are all
// numeric is REAL, anything else is TEXT.
func load(ctx context.Context, db *sql.DB, table string, rows []map[string]any) error {
	cols := columnsOf(rows, nil)
	if len(cols) == 0 {
		cols = []string{"value"}
	}

	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(c), columnType(rows, c))
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return internal("create table: %v", err)
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return internal("begin: %v", err)
	}
	defer tx.Rollback()

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")))
	if err != nil {
		return internal("prepare insert: %v", err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			args[i] = sqlValue(row[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return internal("insert: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return internal("commit: %v", err)
	}
	return nil
}

func columnType(rows []map[string]any, col string) string {
	seen := false
	for _, r := range rows {
		v, ok := r[col]
		if !ok || v == nil {
			continue
		}
		if _, isText := v.(string); isText {
			return "TEXT"
		}
		if _, isNum := toFloat(v); !isNum {
			return "TEXT"
		}
		seen = true
	}
	if !seen {
		return "TEXT"
	}
	return "REAL"
}

func sqlValue(v any) any {
	switch t := v.(type) {
	case nil, string, float64, int, int64, bool:
		return t
	default:
		return cellString(t)
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
