package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedNeverBlocks(t *testing.T) {
	l := New(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, l.WaitN(ctx, 1<<20))
}

func TestWaitNZeroIsNoop(t *testing.T) {
	l := New(10, 10)
	require.NoError(t, l.WaitN(context.Background(), 0))
}

func TestSetLimitChangesThroughput(t *testing.T) {
	l := New(1000, 10)
	l.SetLimit(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NoError(t, l.WaitN(ctx, 1<<20))
}
