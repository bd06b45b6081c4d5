package convert

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(Dataset{
		Headers: []string{"id", "action"},
		Rows:    []map[string]string{{"id": "1", "action": "UPLOAD"}, {"id": "2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "id,action\n1,UPLOAD\n2,\n", string(out))

	_, err = RenderCSV(Dataset{})
	assert.Error(t, err)
}

func TestRenderPDF(t *testing.T) {
	rows := make([]map[string]string, 0, 80)
	for i := 0; i < 80; i++ {
		rows = append(rows, map[string]string{"id": "1", "detail": strings.Repeat("x", 100)})
	}
	out, err := RenderPDF(Dataset{Headers: []string{"id", "detail"}, Rows: rows}, "Audit log")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestConverterToPDF(t *testing.T) {
	c := NewConverter(1024)
	assert.True(t, c.Supports(".TXT"))
	assert.False(t, c.Supports(".docx"))

	out, err := c.ToPDF(".txt", "notes", strings.NewReader("line one\n\tline two\n"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	out, err = c.ToPDF(".csv", "sheet", strings.NewReader("a,b\n1,2\n3\n"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestConverterRejects(t *testing.T) {
	c := NewConverter(4)
	_, err := c.ToPDF(".docx", "x", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = c.ToPDF(".txt", "x", strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrSourceTooLarge)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
