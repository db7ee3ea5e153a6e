package abt

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// columnTypes are the DuckDB types of Columns, in order.
func columnTypes() []string {
	types := []string{
		"VARCHAR", "INTEGER", "VARCHAR", "VARCHAR", "VARCHAR",
		"DOUBLE", "DOUBLE", "DOUBLE",
		"VARCHAR", "DOUBLE", "DOUBLE", "DOUBLE", "DOUBLE", "DOUBLE",
		"INTEGER", "DOUBLE", "DOUBLE",
	}
	for range 12 {
		types = append(types, "DOUBLE")
	}
	return append(types, "DOUBLE", "DOUBLE", "DOUBLE")
}

// ExportFormat picks the COPY format from the file extension.
func ExportFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return "(FORMAT PARQUET)", nil
	case ".csv":
		return "(FORMAT CSV, HEADER)", nil
	}
	return "", fmt.Errorf("unsupported export extension %q (use .parquet or .csv)", filepath.Ext(path))
}

// Export writes the rows matching f to path through an in-memory DuckDB and
// returns how many were written. Nothing is written for an empty result.
func (b *Builder) Export(ctx context.Context, f Filter, path string) (int, error) {
	format, err := ExportFormat(path)
	if err != nil {
		return 0, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("failed to get absolute path: %w", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return 0, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	cols, types := Columns(), columnTypes()
	defs := make([]string, len(cols))
	for i := range cols {
		defs[i] = cols[i] + " " + types[i]
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE abt ("+strings.Join(defs, ", ")+")"); err != nil {
		return 0, fmt.Errorf("failed to create export table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO abt VALUES ("+placeholders+")")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare export insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	n := 0
	for r, err := range b.Build(ctx, f) {
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, r.Values()...); err != nil {
			return 0, fmt.Errorf("failed to stage %s for export: %w", r.Key, err)
		}
		n++
	}
	if n == 0 {
		return 0, ErrEmpty
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit export table: %w", err)
	}

	copySQL := fmt.Sprintf("COPY abt TO '%s' %s", strings.ReplaceAll(absPath, "'", "''"), format) //nolint:gosec // quoted literal
	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	b.logger.Info("abt exported", "path", absPath, "rows", n)
	return n, nil
}
