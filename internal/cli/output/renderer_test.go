package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(mode Mode) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, false, mode), out, errOut
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"JSON", ModeJSON, false},
		{" csv ", ModeCSV, false},
		{"text", ModeText, false},
		{"markdown", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveMode(t *testing.T) {
	r, _, _ := newTestRenderer(ModeAuto)
	assert.Equal(t, ModeText, r.EffectiveMode())
	r, _, _ = newTestRenderer("")
	assert.Equal(t, ModeText, r.EffectiveMode())
	r, _, _ = newTestRenderer(ModeCSV)
	assert.Equal(t, ModeCSV, r.EffectiveMode())
}

func TestTable(t *testing.T) {
	header := []string{"district", "state"}
	rows := [][]string{{"Pune", "Maharashtra"}, {"Ahmednagar, North", "Maharashtra"}}

	t.Run("text", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText)
		require.NoError(t, r.Table(header, rows))
		assert.Contains(t, out.String(), "Pune")
		assert.Contains(t, out.String(), "(2 rows)")
	})

	t.Run("csv quotes commas", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeCSV)
		require.NoError(t, r.Table(header, rows))
		assert.Equal(t, "district,state\nPune,Maharashtra\n\"Ahmednagar, North\",Maharashtra\n", out.String())
	})

	t.Run("json", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeJSON)
		require.NoError(t, r.Table(header, rows))
		var got []map[string]string
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "Pune", got[0]["district"])
	})

	t.Run("empty text", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText)
		require.NoError(t, r.Table(header, nil))
		assert.Equal(t, "(0 rows)\n", out.String())
	})
}

func TestMessagesWithoutTTYArePlain(t *testing.T) {
	r, out, errOut := newTestRenderer(ModeText)
	r.Success("done")
	r.Error("broken")
	r.KeyValue("rows", 3)
	assert.Equal(t, "✓ done\n  rows:                  3\n", out.String())
	assert.Equal(t, "✗ broken\n", errOut.String())
}
