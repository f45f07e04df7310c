package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertEqual fails the test immediately when expected and actual differ.
func AssertEqual(t *testing.T, expected, actual any) {
	t.Helper()
	require.Equal(t, expected, actual)
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	require.NoError(t, err)
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	assert.Error(t, err)
}
