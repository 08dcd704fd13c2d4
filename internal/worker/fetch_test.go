package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/afdcore/afd/internal/fra"
	"github.com/afdcore/afd/internal/rl"
	"github.com/afdcore/afd/internal/ssa"
	"github.com/afdcore/afd/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetchWorker(t *testing.T, ft *fakeTransport) (*FetchWorker, *ssa.Segment) {
	t.Helper()
	dir := t.TempDir()

	ssaSeg, err := ssa.Attach(filepath.Join(dir, "fsa.dat"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ssaSeg.Close() })
	require.NoError(t, ssaSeg.PutHost(&ssa.HostStatus{
		Alias:            "hosta",
		RealHostname:     [2]string{"hosta.example.com", ""},
		AllowedTransfers: ssa.MaxSlots,
	}))

	fraSeg, err := fra.Attach(filepath.Join(dir, "fra.dat"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fraSeg.Close() })
	require.NoError(t, fraSeg.PutDir(&fra.DirStatus{Alias: "dira", URL: "/remote"}))

	rlSeg, err := rl.Attach("dira", filepath.Join(dir, "rl.dat"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rlSeg.Detach(false) })

	wctx := NewWorkerContext("hosta", 0, ssaSeg, nil, nil)
	fw := &FetchWorker{
		Ctx:       wctx,
		RL:        rlSeg,
		FRA:       fraSeg,
		DirAlias:  "dira",
		Transport: ft,
		LocalRoot: filepath.Join(dir, "local"),
	}
	require.NoError(t, os.MkdirAll(fw.LocalRoot, 0o755))
	return fw, ssaSeg
}

func TestRunBurstSimpleFetch(t *testing.T) {
	ft := newFakeTransport()
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ft.entries = []transport.Entry{
		{Name: "a", Size: 10, MTime: mtime},
		{Name: "b", Size: 20, MTime: mtime},
	}
	ft.objects = map[string][]byte{
		"a": []byte("0123456789"),
		"b": []byte("01234567890123456789"),
	}

	fw, ssaSeg := newTestFetchWorker(t, ft)
	code, err := fw.RunBurst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TransferSuccess, code)

	aContent, err := os.ReadFile(filepath.Join(fw.LocalRoot, "a"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(aContent))
	bContent, err := os.ReadFile(filepath.Join(fw.LocalRoot, "b"))
	require.NoError(t, err)
	assert.Equal(t, "01234567890123456789", string(bContent))

	entries, err := fw.RL.All()
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.Retrieved)
	}

	host, err := ssaSeg.Host("hosta")
	require.NoError(t, err)
	assert.Equal(t, int32(0), host.TotalFileCounter, "completed transfer nets back to zero")
	assert.Equal(t, int64(0), host.TotalFileSize, "completed transfer nets back to zero")
}

func TestRunBurstNotFoundMarksRetrievedAndHides(t *testing.T) {
	ft := newFakeTransport()
	ft.entries = []transport.Entry{{Name: "x", Size: 5}}
	ft.notFound = map[string]bool{"x": true}

	fw, ssaSeg := newTestFetchWorker(t, ft)
	code, err := fw.RunBurst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TransferSuccess, code)

	entries, err := fw.RL.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Retrieved)
	assert.False(t, entries[0].InList)

	_, err = os.Stat(filepath.Join(fw.LocalRoot, "x"))
	assert.True(t, os.IsNotExist(err))

	host, err := ssaSeg.Host("hosta")
	require.NoError(t, err)
	assert.Equal(t, int32(0), host.TotalFileCounter)
	assert.Equal(t, int64(0), host.TotalFileSize)
}

func TestRunBurstTransferTimeoutExits(t *testing.T) {
	ft := newFakeTransport()
	ft.entries = []transport.Entry{{Name: "slow", Size: 100}}
	ft.objects = map[string][]byte{"slow": make([]byte, 100)}
	ft.stallAfter = 1

	fw, _ := newTestFetchWorker(t, ft)
	fw.TransferTimeout = time.Millisecond

	code, err := fw.RunBurst(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StillFilesToSend, code)

	entries, err := fw.RL.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Retrieved, "an entry that timed out mid-transfer must not be marked retrieved")
}

func TestRunBurstHostnameChangedExitsCleanly(t *testing.T) {
	ft := newFakeTransport()
	fw, ssaSeg := newTestFetchWorker(t, ft)

	// Prime the baseline with one no-op burst, then flip the real hostname.
	_, err := fw.RunBurst(context.Background())
	require.NoError(t, err)

	require.NoError(t, ssaSeg.MutateHost("hosta", func(h *ssa.HostStatus) {
		h.Toggle()
	}))

	code, err := fw.RunBurst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TransferSuccess, code)
}

func TestRunBurstNoFilesToSendWhenNothingNew(t *testing.T) {
	ft := newFakeTransport()
	fw, _ := newTestFetchWorker(t, ft)

	code, err := fw.RunBurst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NoFilesToSend, code)
}

func TestWorkerExitClearsRLAssignmentsAndReleasesSlot(t *testing.T) {
	ft := newFakeTransport()
	ft.entries = []transport.Entry{{Name: "a", Size: 3}}
	ft.objects = map[string][]byte{"a": []byte("abc")}

	fw, ssaSeg := newTestFetchWorker(t, ft)
	require.NoError(t, ssaSeg.MutateHost("hosta", func(h *ssa.HostStatus) {
		idx, err := h.AcquireSlot()
		require.NoError(t, err)
		require.Equal(t, 0, idx)
	}))

	ids := []rl.Identity{{Name: "a"}}
	_, err := fw.RL.Scan([]rl.RemoteFile{{Name: "a", Size: 3}}, false)
	require.NoError(t, err)
	_, _, err = fw.RL.Assign(0, ids)
	require.NoError(t, err)
	fw.Ctx.TrackRL(fw.RL)

	fw.Ctx.Exit(TransferSuccess)

	entries, err := fw.RL.All()
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, 0, e.Assigned)
	}

	host, err := ssaSeg.Host("hosta")
	require.NoError(t, err)
	assert.Equal(t, 0, host.ActiveTransfers)
}
