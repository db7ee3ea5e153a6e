package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// Mode is how an adjustment changes its feature.
type Mode string

// Adjustment modes.
const (
	ModeRelative Mode = "relative" // new = old * (1 + value/100)
	ModeAbsolute Mode = "absolute" // new = old + value
)

// Adjustment changes one feature, or every member of a feature group.
type Adjustment struct {
	Feature string  `json:"-" yaml:"-"`
	Mode    Mode    `json:"mode" yaml:"mode"`
	Value   float64 `json:"value" yaml:"value"`
}

// Adjustments is an ordered set of adjustments. Duplicate feature names in a
// decoded document are preserved so they can be rejected as conflicts.
type Adjustments []Adjustment

// Set returns a copy of a with one more adjustment.
func (a Adjustments) Set(feature string, mode Mode, value float64) Adjustments {
	return append(a, Adjustment{Feature: feature, Mode: mode, Value: value})
}

// MarshalJSON encodes the adjustments as an object in order.
func (a Adjustments) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, adj := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(adj.Feature)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(adj)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of feature -> {mode, value}, keeping
// repeated keys.
func (a *Adjustments) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("adjustments must be an object of feature -> {mode, value}")
	}
	var out Adjustments
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var adj Adjustment
		if err := dec.Decode(&adj); err != nil {
			return fmt.Errorf("adjustment %q: %w", name, err)
		}
		adj.Feature = name
		out = append(out, adj)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = out
	return nil
}

// UnmarshalYAML reads a mapping of feature -> {mode, value}, keeping
// repeated keys.
func (a *Adjustments) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*a = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: adjustments must be a mapping of feature -> {mode, value}", node.Line)
	}
	out := make(Adjustments, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var adj Adjustment
		if err := node.Content[i+1].Decode(&adj); err != nil {
			return fmt.Errorf("adjustment %q: %w", node.Content[i].Value, err)
		}
		adj.Feature = node.Content[i].Value
		out = append(out, adj)
	}
	*a = out
	return nil
}

// Request asks for one simulation.
type Request struct {
	BaseKey     core.Key    `json:"base_key" yaml:"base_key"`
	Adjustments Adjustments `json:"adjustments" yaml:"adjustments"`
	Predict     bool        `json:"predict,omitempty" yaml:"predict,omitempty"`
	Attribute   bool        `json:"attribute,omitempty" yaml:"attribute,omitempty"`
}

// Validate checks the base key.
func (r Request) Validate() error {
	if r.BaseKey.DistrictID == "" || r.BaseKey.Crop == "" || r.BaseKey.Year == 0 {
		return errors.New("base_key needs district_id, year and crop")
	}
	return nil
}

// DecodeRequest reads a request in format "json" or "yaml".
func DecodeRequest(r io.Reader, format string) (Request, error) {
	var req Request
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return Request{}, fmt.Errorf("failed to decode scenario request: %w", err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&req); err != nil {
			return Request{}, fmt.Errorf("failed to decode scenario request: %w", err)
		}
	default:
		return Request{}, fmt.Errorf("unsupported scenario format %q (use json or yaml)", format)
	}
	return req, req.Validate()
}

// ReadRequestFile decodes a request file, choosing the format by extension.
func ReadRequestFile(path string) (Request, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided scenario path
	if err != nil {
		return Request{}, err
	}
	defer func() { _ = f.Close() }()
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return DecodeRequest(f, format)
}
