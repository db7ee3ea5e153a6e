package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Row is one data row of an extract. Line is 1-based and counts the header.
type Row struct {
	Line  int
	Cells []string
}

// Cursor iterates the rows of an opened extract.
// Next returns io.EOF after the last row.
type Cursor interface {
	Header() []string
	Next() (Row, error)
	Close() error
}

// Opener opens an extract at path.
type Opener func(ctx context.Context, path string) (Cursor, error)

var (
	formatsMu sync.RWMutex
	formats   = make(map[string]Opener)
)

// RegisterFormat adds an extract format. Called from init functions.
func RegisterFormat(name string, open Opener) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[name] = open
}

// ListFormats returns the registered format names (sorted).
func ListFormats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownFormatError is returned when a source names an unregistered format.
type UnknownFormatError struct {
	Format    string
	Available []string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown source format %q\nAvailable formats: %v\nHint: Check sources[].format in agrisim.yaml", e.Format, e.Available)
}

// DetectFormat resolves "" and "auto" from the file extension.
func DetectFormat(format, path string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "" && format != "auto" {
		return format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return "parquet"
	case ".tsv":
		return "tsv"
	default:
		return "csv"
	}
}

func openExtract(ctx context.Context, format, path string) (Cursor, error) {
	name := DetectFormat(format, path)
	formatsMu.RLock()
	open, ok := formats[name]
	formatsMu.RUnlock()
	if !ok {
		return nil, &UnknownFormatError{Format: name, Available: ListFormats()}
	}
	return open(ctx, path)
}
