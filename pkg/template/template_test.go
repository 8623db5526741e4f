package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	out, err := Parse(`{{.Name}} {{json .Params}}`, map[string]any{"Name": "load_local", "Params": map[string]any{"path": "a.csv"}})
	require.NoError(t, err)
	assert.Equal(t, "load_local {\n  \"path\": \"a.csv\"\n}", out)

	again, err := Parse(`{{.Name}} {{json .Params}}`, map[string]any{"Name": "x", "Params": nil})
	require.NoError(t, err)
	assert.Equal(t, "x null", again)

	_, err = Parse(`{{.Name`, nil)
	assert.Error(t, err)
}
