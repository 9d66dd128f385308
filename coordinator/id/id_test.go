package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdsAreDistinct(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
}

func TestStringParseRoundTrip(t *testing.T) {
	original := New()

	parsed, err := Parse(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-uuid")
	assert.Error(t, err)
}
