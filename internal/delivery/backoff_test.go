package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := DefaultBackoff()
	require.Equal(t, 2*time.Second, b.Delay(ClassServer, 0))
	require.Equal(t, 8*time.Second, b.Delay(ClassServer, 2))
	require.Equal(t, 60*time.Second, b.Delay(ClassServer, 10))
	require.Equal(t, 60*time.Second, b.Delay(ClassConnection, 7))
	require.Equal(t, 4*time.Second, b.Delay(ClassRateLimited, 0))
	require.Equal(t, 64*time.Second, b.Delay(ClassRateLimited, 4))
	require.Equal(t, 120*time.Second, b.Delay(ClassRateLimited, 6))
	require.Equal(t, 120*time.Second, b.Delay(ClassRateLimited, 500))
}
