package ssa

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachPutHostRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsa.dat")
	seg, err := Attach(path, 4)
	require.NoError(t, err)
	defer seg.Close()

	h := &HostStatus{
		Alias:            "hosta",
		RealHostname:     [2]string{"hosta.example.com", "hosta-backup.example.com"},
		Protocols:        ProtoFTP | ProtoHTTP,
		Options:          OptPassiveFTP,
		AllowedTransfers: 3,
	}
	require.NoError(t, seg.PutHost(h))

	got, err := seg.Host("hosta")
	require.NoError(t, err)
	assert.Equal(t, "hosta", got.Alias)
	assert.Equal(t, "hosta.example.com", got.RealHostname[0])
	assert.Equal(t, ProtoFTP|ProtoHTTP, got.Protocols)
	assert.Equal(t, 3, got.AllowedTransfers)
}

func TestCheckDetectsStaleAndIdChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsa.dat")
	seg, err := Attach(path, 2)
	require.NoError(t, err)
	defer seg.Close()

	assert.Equal(t, Current, seg.Check())
	seg.BumpEpoch()
	assert.Equal(t, Stale, seg.Check())
	seg.Reattach()
	assert.Equal(t, Current, seg.Check())

	seg.Rebuild(42)
	assert.Equal(t, IdChanged, seg.Check())
}

func TestCheckInvariantsClampsNegativeCounter(t *testing.T) {
	h := &HostStatus{Alias: "h", TotalFileCounter: -3, TotalFileSize: 500, AllowedTransfers: 1, ActiveTransfers: 5}
	msg := h.CheckInvariants()
	assert.NotEmpty(t, msg)
	assert.Equal(t, int32(0), h.TotalFileCounter)
	assert.Equal(t, int64(0), h.TotalFileSize)
	assert.Equal(t, 1, h.ActiveTransfers)
}

func TestAcquireReleaseSlot(t *testing.T) {
	h := &HostStatus{Alias: "h", AllowedTransfers: MaxSlots}
	idx, err := h.AcquireSlot()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 1, h.ActiveTransfers)
	h.ReleaseSlot(idx)
	assert.Equal(t, 0, h.ActiveTransfers)
}

func TestHostAtResolvesPositionAndID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsa.dat")
	seg, err := Attach(path, 4)
	require.NoError(t, err)
	defer seg.Close()

	require.NoError(t, seg.PutHost(&HostStatus{Alias: "hosta"}))
	require.NoError(t, seg.PutHost(&HostStatus{Alias: "hostb"}))

	h, err := seg.HostAt(0)
	require.NoError(t, err)
	assert.Equal(t, "hosta", h.Alias)

	h, err = seg.HostAt(1)
	require.NoError(t, err)
	assert.Equal(t, "hostb", h.Alias)

	_, err = seg.HostAt(3)
	assert.Error(t, err)
	_, err = seg.HostAt(-1)
	assert.Error(t, err)

	assert.Equal(t, uint32(0), seg.ID())
	seg.Rebuild(7)
	assert.Equal(t, uint32(7), seg.ID())
}

func TestWithTFCAccumulatesUnderLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsa.dat")
	seg, err := Attach(path, 2)
	require.NoError(t, err)
	defer seg.Close()

	require.NoError(t, seg.PutHost(&HostStatus{Alias: "h"}))
	for i := 0; i < 5; i++ {
		err := seg.WithTFC("h", func(h *HostStatus) {
			h.TotalFileCounter++
			h.TotalFileSize += 100
		})
		require.NoError(t, err)
	}
	h, err := seg.Host("h")
	require.NoError(t, err)
	assert.Equal(t, int32(5), h.TotalFileCounter)
	assert.Equal(t, int64(500), h.TotalFileSize)
}
