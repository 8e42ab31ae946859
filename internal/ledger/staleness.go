package ledger

import (
	"path/filepath"
	"sort"
	"time"

	"spineprod/cafledger/internal/db"
	"spineprod/cafledger/internal/scan"
)

// Timestamps below this are seconds written by older ledgers, not nanoseconds.
const legacySecondsCutoff = int64(1e12)

// StaleRow is a row whose intermediate file changed after its final
// artifact was produced.
type StaleRow struct {
	Row              db.DatasetRow `json:"row" yaml:"row"`
	IntermediatePath string        `json:"intermediate_path" yaml:"intermediate_path"`
	ModTime          time.Time     `json:"mod_time" yaml:"mod_time"`
	Drift            time.Duration `json:"drift" yaml:"drift"`
}

// RecordedTime converts a stored final timestamp to a time.
func RecordedTime(ts int64) time.Time {
	if ts > 0 && ts < legacySecondsCutoff {
		return time.Unix(ts, 0)
	}
	return time.Unix(0, ts)
}

// IsStale reports whether mtime is later than the recorded timestamp.
// Legacy second timestamps are compared at second resolution.
func IsStale(row db.DatasetRow, mtime time.Time) bool {
	ts := row.FinalTimestamp
	if ts > 0 && ts < legacySecondsCutoff {
		return mtime.Unix() > ts
	}
	return mtime.UnixNano() > ts
}

// FindStale checks the intermediate file of every row against its recorded
// timestamp. Rows whose intermediate file cannot be stat'ed come back as
// failures. Results are sorted by drift, largest first.
func FindStale(rows []db.DatasetRow, srcDir string, fs scan.FS) ([]StaleRow, []Failure) {
	var stale []StaleRow
	var failures []Failure
	for _, row := range rows {
		if row.IntermediateName == nil || !row.HasFinal() {
			continue
		}
		path := filepath.Join(srcDir, *row.IntermediateName)
		mtime, err := fs.ModTime(path)
		if err != nil {
			failures = append(failures, newFailure(StepRefresh, row.SourceName, err))
			continue
		}
		if !IsStale(row, mtime) {
			continue
		}
		stale = append(stale, StaleRow{
			Row:              row,
			IntermediatePath: path,
			ModTime:          mtime,
			Drift:            mtime.Sub(RecordedTime(row.FinalTimestamp)),
		})
	}
	sort.SliceStable(stale, func(i, j int) bool {
		if stale[i].Drift != stale[j].Drift {
			return stale[i].Drift > stale[j].Drift
		}
		return stale[i].Row.SourceName < stale[j].Row.SourceName
	})
	return stale, failures
}
