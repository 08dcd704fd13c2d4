// Package fra implements the Fileretrieve Status Area (FRA): per-directory
// shared state for fetch jobs.
package fra

import "time"

// DirOption is the per-directory option bitmask.
type DirOption uint32

// DirOption bits.
const (
	OptOneProcessJustScanning DirOption = 1 << iota
	OptDoNotParallelize
	OptKeepPath
	OptNoDelimiter
	OptStupidMode
	OptRemove
	OptURLWithIndexFileName
	OptURLCreatesFileName
	OptDontGetDirList
	OptDupCheck
)

// Has reports whether all bits in want are set.
func (o DirOption) Has(want DirOption) bool { return o&want == want }

// TimeEntry is one cron-like entry in a directory's check schedule.
// A -1 field means "any".
type TimeEntry struct {
	Minute     int
	Hour       int
	DayOfMonth int
	Month      int
	DayOfWeek  int
}

// Matches reports whether t falls on this entry, using -1 as a wildcard for
// each field, the same convention a cron parser uses.
func (e TimeEntry) Matches(t time.Time) bool {
	return matchField(e.Minute, t.Minute()) &&
		matchField(e.Hour, t.Hour()) &&
		matchField(e.DayOfMonth, t.Day()) &&
		matchField(e.Month, int(t.Month())) &&
		matchField(e.DayOfWeek, int(t.Weekday()))
}

func matchField(want, got int) bool { return want < 0 || want == got }

// CronTable is an ordered set of TimeEntry rows; NextAfter finds the next
// matching minute strictly after `after`, scanning at most 7 days ahead
// (cron tables never legitimately skip further than a week).
type CronTable []TimeEntry

// NextAfter returns the next time after `after` that the table matches, or
// the zero Time if nothing matches within a week.
func (c CronTable) NextAfter(after time.Time) time.Time {
	if len(c) == 0 {
		return time.Time{}
	}
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(7 * 24 * time.Hour)
	for t.Before(limit) {
		for _, e := range c {
			if e.Matches(t) {
				return t
			}
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// DirStatus is one FRA entry.
type DirStatus struct {
	Alias               string
	URL                 string
	CheckInterval       time.Duration
	NextCheckTime       time.Time
	Schedule            CronTable
	Options             DirOption
	ErrorCounter        int32
	OneProcessScanning  bool // "distributed helper" claim flag
	ScanningWorkerToken string
}

// RecomputeNextCheck advances NextCheckTime per the directory's schedule or
// fixed interval, computing the next scheduled check time from the cron
// entries.
func (d *DirStatus) RecomputeNextCheck(now time.Time) {
	if len(d.Schedule) > 0 {
		next := d.Schedule.NextAfter(now)
		if !next.IsZero() {
			d.NextCheckTime = next
			return
		}
	}
	if d.CheckInterval > 0 {
		d.NextCheckTime = now.Add(d.CheckInterval)
	}
}

// ClaimScanning attempts to become the sole scanner for a one-process-just-
// scanning directory, returning false if another
// worker already holds the claim.
func (d *DirStatus) ClaimScanning(workerToken string) bool {
	if !d.Options.Has(OptOneProcessJustScanning) {
		return true
	}
	if d.OneProcessScanning && d.ScanningWorkerToken != workerToken {
		return false
	}
	d.OneProcessScanning = true
	d.ScanningWorkerToken = workerToken
	return true
}

// ReleaseScanning releases a scanning claim held by workerToken.
func (d *DirStatus) ReleaseScanning(workerToken string) {
	if d.ScanningWorkerToken == workerToken {
		d.OneProcessScanning = false
		d.ScanningWorkerToken = ""
	}
}
