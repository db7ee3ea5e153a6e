package loader

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

func init() {
	RegisterFormat("parquet", openParquet)
}

type duckCursor struct {
	db     *sql.DB
	rows   *sql.Rows
	header []string
	line   int
	vals   []any
	ptrs   []any
}

// openParquet streams a parquet file through an in-memory DuckDB.
func openParquet(ctx context.Context, path string) (Cursor, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	query := fmt.Sprintf("SELECT * FROM read_parquet('%s')", strings.ReplaceAll(absPath, "'", "''")) //nolint:gosec // quoted literal
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read parquet: %w", err)
	}
	header, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to read parquet columns: %w", err)
	}
	c := &duckCursor{db: db, rows: rows, header: header, line: 1}
	c.vals = make([]any, len(header))
	c.ptrs = make([]any, len(header))
	for i := range c.vals {
		c.ptrs[i] = &c.vals[i]
	}
	return c, nil
}

func (c *duckCursor) Header() []string { return c.header }

func (c *duckCursor) Next() (Row, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return Row{}, err
		}
		return Row{}, io.EOF
	}
	if err := c.rows.Scan(c.ptrs...); err != nil {
		return Row{}, fmt.Errorf("failed to scan parquet row: %w", err)
	}
	c.line++
	cells := make([]string, len(c.vals))
	for i, v := range c.vals {
		cells[i] = formatCell(v)
	}
	return Row{Line: c.line, Cells: cells}, nil
}

func (c *duckCursor) Close() error {
	_ = c.rows.Close()
	return c.db.Close()
}

// formatCell renders a scanned DuckDB value the way a CSV cell would read.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.DateOnly)
	case interface{ Float64() float64 }:
		return strconv.FormatFloat(x.Float64(), 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
