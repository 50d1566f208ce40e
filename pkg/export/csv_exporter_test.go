package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	exporter := NewCSVExporter()
	out, err := exporter.Render(Dataset{
		Headers: []string{"email", "full_name"},
		Rows: []map[string]string{
			{"email": "jane@school.org", "full_name": "Jané Smith"},
			{"email": "bob@school.org"},
		},
	})
	require.NoError(t, err)

	body := string(out)
	assert.True(t, strings.HasPrefix(body, "\uFEFF"), "output should start with a UTF-8 BOM")

	lines := strings.Split(strings.TrimRight(strings.TrimPrefix(body, "\uFEFF"), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "email,full_name", lines[0])
	assert.Equal(t, "jane@school.org,Jané Smith", lines[1])
	assert.Equal(t, "bob@school.org,", lines[2])
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}
