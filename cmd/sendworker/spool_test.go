package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/afdcore/afd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRenameRulesFirstMatchWins(t *testing.T) {
	rules := []string{"draft_:final_", "foo:bar"}
	assert.Equal(t, "final_report.txt", applyRenameRules("draft_report.txt", rules))
	assert.Equal(t, "bar.txt", applyRenameRules("foo.txt", rules))
	assert.Equal(t, "unrelated.txt", applyRenameRules("unrelated.txt", rules))
}

func TestTypeIndicatorFromNameTranscribesLeadingBytes(t *testing.T) {
	assert.Equal(t, [2]byte{'T', 'T'}, typeIndicatorFromName("TTbulletin.txt"))
	assert.Equal(t, [2]byte{'A', 0}, typeIndicatorFromName("A"))
}

func TestBuildSendJobsOrdersAndDiscardsStale(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

	stalePath := filepath.Join(dir, "old.txt")
	require.NoError(t, os.WriteFile(stalePath, []byte("old"), 0o644))
	oldTime := time.Now().Add(-1 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, oldTime, oldTime))

	job := &config.JobDescriptor{ArchiveDir: "/archive/x"}
	jobs, err := buildSendJobs(job, dir, "hosta", 30*time.Minute, false)
	require.NoError(t, err)

	require.Len(t, jobs, 2)
	assert.Equal(t, "a.txt", jobs[0].RemoteName)
	assert.Equal(t, "b.txt", jobs[1].RemoteName)
	assert.Equal(t, "/archive/x", jobs[0].ArchiveDir)

	_, err = os.Stat(stalePath)
	assert.True(t, os.IsNotExist(err), "a file past the age limit should be removed")
}

func TestBuildSendJobsNoArchiveOverridesJob(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

	job := &config.JobDescriptor{ArchiveDir: "/archive/x"}
	jobs, err := buildSendJobs(job, dir, "hosta", 0, true)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Empty(t, jobs[0].ArchiveDir)
}

func TestBuildSendJobsAppliesWMOFraming(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TTbulletin.txt"), []byte("body"), 0o644))

	job := &config.JobDescriptor{WMO: true, WMOUseSeq: true}
	jobs, err := buildSendJobs(job, dir, "hosta", 0, false)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].WMO)
	assert.Equal(t, [2]byte{'T', 'T'}, jobs[0].WMOType)
	require.NotNil(t, jobs[0].WMOSeq)
	assert.EqualValues(t, 0, *jobs[0].WMOSeq)
}
