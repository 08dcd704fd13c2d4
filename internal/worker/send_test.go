package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/afdcore/afd/internal/dupcheck"
	"github.com/afdcore/afd/internal/ssa"
	"github.com/afdcore/afd/internal/wmoframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSendWorker(t *testing.T, ft *fakeTransport) (*SendWorker, *ssa.Segment) {
	t.Helper()
	dir := t.TempDir()

	ssaSeg, err := ssa.Attach(filepath.Join(dir, "fsa.dat"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ssaSeg.Close() })
	require.NoError(t, ssaSeg.PutHost(&ssa.HostStatus{
		Alias:            "hosta",
		AllowedTransfers: ssa.MaxSlots,
	}))

	wctx := NewWorkerContext("hosta", 0, ssaSeg, nil, nil)
	sw := &SendWorker{Ctx: wctx, Transport: ft}
	return sw, ssaSeg
}

func writeLocalFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestSendRunBurstDeliversAndUnlinksSource(t *testing.T) {
	ft := newFakeTransport()
	sw, ssaSeg := newTestSendWorker(t, ft)
	srcDir := t.TempDir()

	jobs := []SendJob{
		{LocalPath: writeLocalFile(t, srcDir, "one.dat", "hello"), RemoteName: "one.dat"},
		{LocalPath: writeLocalFile(t, srcDir, "two.dat", "world!"), RemoteName: "two.dat"},
	}

	code, err := sw.RunBurst(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, TransferSuccess, code)

	assert.Equal(t, []byte("hello"), ft.puts["one.dat"])
	assert.Equal(t, []byte("world!"), ft.puts["two.dat"])

	_, err = os.Stat(jobs[0].LocalPath)
	assert.True(t, os.IsNotExist(err), "source file should be unlinked after a successful send")

	files, bytesMoved, bursts := sw.Ctx.Stats()
	assert.EqualValues(t, 2, files)
	assert.EqualValues(t, 11, bytesMoved)
	assert.Equal(t, 0, bursts, "RunBurst itself does not hand off connections; RecordBurst fires at coordinator negotiation")

	host, err := ssaSeg.Host("hosta")
	require.NoError(t, err)
	assert.Equal(t, int32(0), host.TotalFileCounter, "completed transfer nets back to zero")
	assert.Equal(t, int64(0), host.TotalFileSize, "completed transfer nets back to zero")
}

func TestSendRunBurstArchivesInsteadOfUnlinking(t *testing.T) {
	ft := newFakeTransport()
	sw, _ := newTestSendWorker(t, ft)
	srcDir := t.TempDir()
	archiveDir := t.TempDir()

	job := SendJob{
		LocalPath:  writeLocalFile(t, srcDir, "archived.dat", "payload"),
		RemoteName: "archived.dat",
		ArchiveDir: archiveDir,
	}

	code, err := sw.RunBurst(context.Background(), []SendJob{job})
	require.NoError(t, err)
	assert.Equal(t, TransferSuccess, code)

	_, err = os.Stat(job.LocalPath)
	assert.True(t, os.IsNotExist(err))

	archived := filepath.Join(archiveDir, time.Now().Format("20060102"), "archived.dat")
	content, err := os.ReadFile(archived)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestSendRunBurstNoJobsIsNoFilesToSend(t *testing.T) {
	ft := newFakeTransport()
	sw, _ := newTestSendWorker(t, ft)
	code, err := sw.RunBurst(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, NoFilesToSend, code)
}

func TestSendOneSkipsPutOnDupcheckHit(t *testing.T) {
	ft := newFakeTransport()
	sw, _ := newTestSendWorker(t, ft)
	sw.Dupcheck = dupcheck.New()
	sw.DupCheckTTL = time.Hour

	srcDir := t.TempDir()
	path := writeLocalFile(t, srcDir, "dup.dat", "same bytes")
	fp, err := dupcheck.Fingerprint(path, "dup.dat", 10, dupcheck.FlagNameSize)
	require.NoError(t, err)
	// Prime the cache as if an earlier send already delivered this content.
	assert.False(t, sw.Dupcheck.IsDup(sw.CRCID, fp, sw.DupCheckTTL))

	code, err := sw.sendOne(context.Background(), SendJob{LocalPath: path, RemoteName: "dup.dat"}, 10)
	require.NoError(t, err)
	assert.Equal(t, TransferSuccess, code)
	assert.Nil(t, ft.puts["dup.dat"], "a dupcheck hit must never reach Transport.Put")
}

func TestSendOneAppliesWMOFraming(t *testing.T) {
	ft := newFakeTransport()
	sw, _ := newTestSendWorker(t, ft)
	srcDir := t.TempDir()
	path := writeLocalFile(t, srcDir, "bulletin.dat", "BODY")

	job := SendJob{
		LocalPath:  path,
		RemoteName: "bulletin.dat",
		WMO:        true,
		WMOType:    wmoframe.TypeIndicator{},
	}
	code, err := sw.sendOne(context.Background(), job, 4)
	require.NoError(t, err)
	assert.Equal(t, TransferSuccess, code)

	put := ft.puts["bulletin.dat"]
	require.NotEmpty(t, put)
	assert.Greater(t, len(put), 4, "WMO framing must prepend a header onto the body")
}

func TestSendOneReturnsWriteRemoteErrorOnPutFailure(t *testing.T) {
	dir := t.TempDir()
	ssaSeg, err := ssa.Attach(filepath.Join(dir, "fsa.dat"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ssaSeg.Close() })
	require.NoError(t, ssaSeg.PutHost(&ssa.HostStatus{Alias: "hosta", AllowedTransfers: ssa.MaxSlots}))

	ft := &failingPutTransport{fakeTransport: newFakeTransport()}
	sw := &SendWorker{Ctx: NewWorkerContext("hosta", 0, ssaSeg, nil, nil), Transport: ft}

	srcDir := t.TempDir()
	path := writeLocalFile(t, srcDir, "boom.dat", "x")

	code, err := sw.sendOne(context.Background(), SendJob{LocalPath: path, RemoteName: "boom.dat"}, 1)
	assert.Error(t, err)
	assert.Equal(t, WriteRemoteError, code)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "a file that failed to send must not be unlinked")
}
