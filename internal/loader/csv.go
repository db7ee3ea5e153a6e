package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

func init() {
	RegisterFormat("csv", func(ctx context.Context, path string) (Cursor, error) {
		return openDelimited(ctx, path, ',')
	})
	RegisterFormat("tsv", func(ctx context.Context, path string) (Cursor, error) {
		return openDelimited(ctx, path, '\t')
	})
}

type csvCursor struct {
	ctx    context.Context
	f      *os.File
	r      *csv.Reader
	header []string
}

func openDelimited(ctx context.Context, path string, comma rune) (Cursor, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the project config
	if err != nil {
		return nil, fmt.Errorf("failed to open extract: %w", err)
	}
	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("extract %s is empty", path)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return &csvCursor{ctx: ctx, f: f, r: r, header: header}, nil
}

func (c *csvCursor) Header() []string { return c.header }

func (c *csvCursor) Next() (Row, error) {
	for {
		if err := c.ctx.Err(); err != nil {
			return Row{}, err
		}
		rec, err := c.r.Read()
		if err != nil {
			return Row{}, err
		}
		line, _ := c.r.FieldPos(0)
		if blank(rec) {
			continue
		}
		return Row{Line: line, Cells: rec}, nil
	}
}

func (c *csvCursor) Close() error { return c.f.Close() }

func blank(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
