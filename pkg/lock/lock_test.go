package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	ctx := context.Background()
	l, err := Nop{}.Acquire(ctx, "research:lock:x", time.Minute)
	require.NoError(t, err)

	// a second acquire is also granted
	_, err = Nop{}.Acquire(ctx, "research:lock:x", time.Minute)
	require.NoError(t, err)

	assert.NoError(t, l.Refresh(ctx))
	assert.NoError(t, l.Release(ctx))
}
