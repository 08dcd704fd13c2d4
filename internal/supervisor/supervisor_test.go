package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWorkerTracksAndWaits(t *testing.T) {
	s := New("/bin/true", "/bin/true", "")
	rw, err := s.StartWorker(context.Background(), JobSpec{Kind: KindSend, HostName: "host01"})
	require.NoError(t, err)
	assert.NotZero(t, rw.PID)
	require.NoError(t, rw.Wait())

	s.mu.Lock()
	_, stillTracked := s.running[rw.PID]
	s.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestStartWorkerPropagatesExitError(t *testing.T) {
	s := New("/bin/false", "/bin/false", "")
	rw, err := s.StartWorker(context.Background(), JobSpec{Kind: KindFetch})
	require.NoError(t, err)
	assert.Error(t, rw.Wait())
}

func TestStartWorkerMissingBinaryErrors(t *testing.T) {
	s := New("/no/such/binary", "/no/such/binary", "")
	_, err := s.StartWorker(context.Background(), JobSpec{Kind: KindSend})
	assert.Error(t, err)
}

func TestShutdownReturnsWithinTimeoutWhenNoWorkers(t *testing.T) {
	s := New("/bin/true", "/bin/true", "")
	start := time.Now()
	s.Shutdown(50 * time.Millisecond)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "send", KindSend.String())
	assert.Equal(t, "fetch", KindFetch.String())
}
