package cmdutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProperties(t *testing.T) {
	props, err := ParseProperties([]string{"level=senior", " team =core", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"level": "senior", "team": "core", "note": "a=b"}, props)

	_, err = ParseProperties([]string{"missing"})
	assert.Error(t, err)
	_, err = ParseProperties([]string{"=value"})
	assert.Error(t, err)

	props, err = ParseProperties(nil)
	require.NoError(t, err)
	assert.Empty(t, props)
}
