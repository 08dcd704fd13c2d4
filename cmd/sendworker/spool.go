package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/afdcore/afd/internal/config"
	"github.com/afdcore/afd/internal/logging"
	"github.com/afdcore/afd/internal/wmoframe"
	"github.com/afdcore/afd/internal/worker"
)

// seqCounter hands out a running WMO sequence counter across one burst, the
// way the interleaved counter in file-name-is-header framing advances once
// per file rather than resetting.
type seqCounter struct{ n uint16 }

func (c *seqCounter) next() *uint16 {
	v := c.n
	c.n++
	return &v
}

// buildSendJobs lists every regular file in sourceDir and turns it into a
// SendJob, applying the age limit (discarding and removing files older than
// it), the job's rename rules, and the no-archive override carried by the
// -A flag; the -r resend choice reaches it only through sourceDir. Entries
// are ordered by name for a deterministic burst.
func buildSendJobs(job *config.JobDescriptor, sourceDir, dirAlias string, ageLimit time.Duration, noArchive bool) ([]worker.SendJob, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	archiveDir := job.ArchiveDir
	if noArchive {
		archiveDir = ""
	}

	var seq seqCounter
	var jobs []worker.SendJob
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		localPath := filepath.Join(sourceDir, name)

		if ageLimit > 0 {
			fi, err := e.Info()
			if err == nil && time.Since(fi.ModTime()) > ageLimit {
				logging.Debugsignf(dirAlias, "discarding %s: exceeds age limit %s", name, ageLimit)
				_ = os.Remove(localPath)
				continue
			}
		}

		remoteName := applyRenameRules(name, job.RenameRules)
		sj := worker.SendJob{
			LocalPath:  localPath,
			RemoteName: remoteName,
			ArchiveDir: archiveDir,
		}
		if job.WMO {
			sj.WMO = true
			sj.WMOType = typeIndicatorFromName(remoteName)
			if job.WMOUseSeq {
				sj.WMOSeq = seq.next()
			}
		}
		jobs = append(jobs, sj)
	}
	return jobs, nil
}

// applyRenameRules runs name through an ordered list of "old:new" substring
// rewrite rules, the Go equivalent of the original's rename-rule file: the
// first rule whose "old" half appears in name wins.
func applyRenameRules(name string, rules []string) string {
	for _, rule := range rules {
		parts := strings.SplitN(rule, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		if strings.Contains(name, parts[0]) {
			return strings.Replace(name, parts[0], parts[1], 1)
		}
	}
	return name
}

// typeIndicatorFromName transcribes the two-character WMO data-type
// designator from the leading bytes of the (possibly renamed) file name.
func typeIndicatorFromName(name string) wmoframe.TypeIndicator {
	var t wmoframe.TypeIndicator
	for i := 0; i < len(t) && i < len(name); i++ {
		t[i] = name[i]
	}
	return t
}
