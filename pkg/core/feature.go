package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Key identifies one ABT row and the FeatureVector derived from it.
type Key struct {
	DistrictID string `json:"district_id" yaml:"district_id"`
	Year       int    `json:"year" yaml:"year"`
	Crop       string `json:"crop" yaml:"crop"`
}

// String renders the key as district_id:year:crop.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.DistrictID, k.Year, k.Crop)
}

// ParseKey parses the district_id:year:crop form produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("invalid key %q: expected district_id:year:crop", s)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("invalid key %q: bad year: %w", s, err)
	}
	if parts[0] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("invalid key %q: empty district or crop", s)
	}
	return Key{DistrictID: parts[0], Year: year, Crop: parts[2]}, nil
}

// Value is a nullable feature value. The zero Value is null.
type Value struct {
	Float float64
	Valid bool
}

// Some returns a valid Value. NaN and infinities collapse to null.
func Some(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{Float: f, Valid: true}
}

// Null returns the null Value.
func Null() Value { return Value{} }

// FromPtr converts a pointer to a Value (nil is null).
func FromPtr(f *float64) Value {
	if f == nil {
		return Value{}
	}
	return Some(*f)
}

// Ptr returns the value as a pointer, nil when null.
func (v Value) Ptr() *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float
	return &f
}

// String renders the value, "null" when invalid.
func (v Value) String() string {
	if !v.Valid {
		return "null"
	}
	return strconv.FormatFloat(v.Float, 'g', -1, 64)
}

// MarshalJSON encodes null values as JSON null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Some(f)
	return nil
}

// FeatureVector maps feature names to values for one Key. It is always
// reconstructible from the normalized store.
type FeatureVector struct {
	Key    Key              `json:"key"`
	Values map[string]Value `json:"values"`
}

// NewFeatureVector returns an empty vector for key.
func NewFeatureVector(key Key) FeatureVector {
	return FeatureVector{Key: key, Values: make(map[string]Value)}
}

// Get returns the named value; unknown names are null.
func (v FeatureVector) Get(name string) Value {
	return v.Values[name]
}

// Clone returns a copy that shares no state with v.
func (v FeatureVector) Clone() FeatureVector {
	return FeatureVector{Key: v.Key, Values: maps.Clone(v.Values)}
}

// Names returns the feature names in sorted order.
func (v FeatureVector) Names() []string {
	return slices.Sorted(maps.Keys(v.Values))
}

// Equal reports whether both vectors have the same key and values.
func (v FeatureVector) Equal(o FeatureVector) bool {
	if v.Key != o.Key || len(v.Values) != len(o.Values) {
		return false
	}
	for name, a := range v.Values {
		b, ok := o.Values[name]
		if !ok || a != b {
			return false
		}
	}
	return true
}

// Numeric returns the valid values only, the shape the model contract takes.
func (v FeatureVector) Numeric() map[string]float64 {
	out := make(map[string]float64, len(v.Values))
	for name, val := range v.Values {
		if val.Valid {
			out[name] = val.Float
		}
	}
	return out
}
