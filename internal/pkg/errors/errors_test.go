package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifiersSeeThroughWrapping(t *testing.T) {
	unavailable := fmt.Errorf("comments find: %w: %w", ErrUnavailable, fmt.Errorf("dial tcp: refused"))
	require.True(t, IsUnavailable(unavailable))
	require.False(t, IsNotFound(unavailable))

	exists := fmt.Errorf("users: %w", ErrAlreadyExists)
	require.True(t, IsAlreadyExists(exists))
	require.True(t, IsAlreadyExists(ErrConflict))
	require.False(t, IsUnavailable(exists))

	require.True(t, IsNotFound(fmt.Errorf("comment c1: %w", ErrNotFound)))
	require.False(t, IsNotFound(nil))
}
