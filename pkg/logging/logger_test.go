package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("bogus")
	assert.Error(t, err)
}

func TestWithFieldDoesNotPanic(t *testing.T) {
	l, err := New("DEBUG")
	require.NoError(t, err)

	child := l.WithField("component", "test").WithFields(map[string]interface{}{"a": 1})
	child.Info("hello", "k", "v")

	// stdout sync commonly errors on some platforms; only exercised for panics.
	_ = l.Sync()
}
