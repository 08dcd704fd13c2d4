package worker

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/afdcore/afd/internal/eventlog"
	"github.com/afdcore/afd/internal/rl"
	"github.com/afdcore/afd/internal/ssa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodeString(t *testing.T) {
	cases := map[ExitCode]string{
		TransferSuccess:   "TRANSFER_SUCCESS",
		StillFilesToSend:  "STILL_FILES_TO_SEND",
		ConnectError:      "CONNECT_ERROR",
		OpenRemoteError:   "OPEN_REMOTE_ERROR",
		ReadRemoteError:   "READ_REMOTE_ERROR",
		WriteRemoteError:  "WRITE_REMOTE_ERROR",
		OpenLocalError:    "OPEN_LOCAL_ERROR",
		ReadLocalError:    "READ_LOCAL_ERROR",
		WriteLocalError:   "WRITE_LOCAL_ERROR",
		DeleteRemoteError: "DELETE_REMOTE_ERROR",
		NoopError:         "NOOP_ERROR",
		AllocError:        "ALLOC_ERROR",
		NoFilesToSend:     "NO_FILES_TO_SEND",
		GotKilled:         "GOT_KILLED",
	}
	for code, want := range cases {
		assert.Equal(t, want, code.String())
	}
	assert.Equal(t, "ExitCode(99)", ExitCode(99).String())
}

func newTestWorkerContext(t *testing.T) (*WorkerContext, *ssa.Segment) {
	t.Helper()
	dir := t.TempDir()
	seg, err := ssa.Attach(filepath.Join(dir, "fsa.dat"), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })
	require.NoError(t, seg.PutHost(&ssa.HostStatus{Alias: "hosta", AllowedTransfers: ssa.MaxSlots}))
	require.NoError(t, seg.MutateHost("hosta", func(h *ssa.HostStatus) {
		idx, err := h.AcquireSlot()
		require.NoError(t, err)
		require.Equal(t, 0, idx)
	}))
	return NewWorkerContext("hosta", 0, seg, nil, nil), seg
}

func TestExitCompletesPendingRenameOnSuccess(t *testing.T) {
	wctx, _ := newTestWorkerContext(t)
	dir := t.TempDir()
	tmpPath := filepath.Join(dir, "a.tmp")
	finalPath := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(tmpPath, []byte("content"), 0o644))

	wctx.SetPendingRename(nil, rl.Identity{Name: "a"}, tmpPath, finalPath)
	code := wctx.Exit(TransferSuccess)
	assert.Equal(t, TransferSuccess, code)

	content, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, "content", string(content))
	_, err = os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(err), "tmp file should have been renamed away")
}

func TestExitAbandonsPendingRenameOnFailure(t *testing.T) {
	wctx, _ := newTestWorkerContext(t)
	dir := t.TempDir()
	tmpPath := filepath.Join(dir, "a.tmp")
	// finalPath's parent path component ("a") is occupied by a plain file,
	// so MkdirAll - and therefore the rename - cannot succeed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("blocker"), 0o644))
	finalPath := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, os.WriteFile(tmpPath, []byte("partial"), 0o644))

	wctx.SetPendingRename(nil, rl.Identity{Name: "a"}, tmpPath, finalPath)
	wctx.Exit(ReadRemoteError)

	_, err := os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(err), "an abandoned rename must remove the tmp file")
}

func TestExitReleasesFSASlotAndWritesSummary(t *testing.T) {
	wctx, seg := newTestWorkerContext(t)
	eventsPath := filepath.Join(t.TempDir(), "events.log")
	f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	wctx.Events = eventlog.NewWriter(f)

	wctx.RecordFile(42)
	wctx.RecordBurst()
	wctx.Exit(TransferSuccess)

	host, err := seg.Host("hosta")
	require.NoError(t, err)
	assert.Equal(t, 0, host.ActiveTransfers)

	raw, err := os.ReadFile(eventsPath)
	require.NoError(t, err)
	records, err := eventlog.Scan(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, eventlog.ActionStartTransfer, records[0].Action)
	assert.Equal(t, "hosta", records[0].Alias)
}
