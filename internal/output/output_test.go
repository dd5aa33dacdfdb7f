package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Messages(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "checking store") }, "🔍 checking store\n"},
		{"status without icon", func(w *Writer) { w.Status("", "detail") }, "   detail\n"},
		{"statusf", func(w *Writer) { w.Statusf("•", "%d indexes", 3) }, "• 3 indexes\n"},
		{"success", func(w *Writer) { w.Successf("loaded %d documents", 10) }, "✅ loaded 10 documents\n"},
		{"warning", func(w *Writer) { w.Warningf("index %s is stale", "Orders") }, "⚠️  index Orders is stale\n"},
		{"error", func(w *Writer) { w.Errorf("query failed: %s", "bad field") }, "❌ query failed: bad field\n"},
		{"newline", func(w *Writer) { w.Newline() }, "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Code(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Code("store:\n  backend: sqlite")

	assert.Equal(t, "\n  store:\n    backend: sqlite\n\n", buf.String())
}

func TestWriter_KeyValues(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).KeyValues([2]string{"Index", "Orders"}, [2]string{"Generation", "42"})

	assert.Equal(t, "  Index:      Orders\n  Generation: 42\n", buf.String())
}

func TestWriter_Table(t *testing.T) {
	// Given: query rows
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a table
	w.Table([]string{"@id", "Total"}, [][]string{{"orders/1", "10"}, {"orders/2", "NULL"}})

	// Then: headers and cells appear in a bordered table
	out := buf.String()
	assert.Contains(t, out, "@id")
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "orders/1")
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, "╭")
	assert.Less(t, strings.Index(out, "orders/1"), strings.Index(out, "orders/2"))
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(0, 0, "ignored")
	assert.Empty(t, buf.String())

	w.Progress(5, 10, "writing")
	assert.Contains(t, buf.String(), "50% writing")
	assert.False(t, strings.HasSuffix(buf.String(), "\n"))

	w.Progress(10, 10, "writing")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name           string
		current, total int
		want           string
	}{
		{"empty", 0, 10, "░░░░░░░░░░"},
		{"half", 5, 10, "█████░░░░░"},
		{"full", 10, 10, "██████████"},
		{"overflow", 20, 10, "██████████"},
		{"negative", -5, 10, "░░░░░░░░░░"},
		{"zero total", 3, 0, "░░░░░░░░░░"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderProgressBar(tt.current, tt.total, 10))
		})
	}
}
