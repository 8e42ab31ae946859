package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"spineprod/cafledger/internal/db"
	"spineprod/cafledger/internal/ledger"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTimestamp(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return ledger.RecordedTime(ts).UTC().Format(time.RFC3339)
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}

// printReport writes a batch summary followed by every failure.
func printReport(w io.Writer, rep *ledger.Report) {
	fmt.Fprintf(w, "\n  Run %s  (%s, %s)\n\n", shortID(rep.RunID), rep.Definition, rep.Duration.Round(time.Millisecond))
	for _, s := range rep.Steps {
		fmt.Fprintf(w, "  %-18s %5d candidates  %5d updated", s.Step, s.Candidates, s.Updated)
		if s.Skipped > 0 {
			fmt.Fprintf(w, "  %d skipped", s.Skipped)
		}
		if s.Unmatched > 0 {
			fmt.Fprintf(w, "  %d unmatched", s.Unmatched)
		}
		if len(s.Failures) > 0 {
			fmt.Fprintf(w, "  %d failed", len(s.Failures))
		}
		fmt.Fprintln(w)
	}

	failures := rep.Failures()
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  Failures (%d)\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  [%s] %s: %s\n", f.Step, f.Key, f.Error)
		if f.Stderr != "" {
			for _, line := range strings.Split(strings.TrimRight(f.Stderr, "\n"), "\n") {
				fmt.Fprintf(w, "      | %s\n", line)
			}
		}
	}
}

// printLineage writes one row's chain from parent to final artifact.
func printLineage(w io.Writer, r *db.DatasetRow) {
	chain := []string{r.ParentName, r.SourceName}
	if r.IntermediateName != nil {
		chain = append(chain, *r.IntermediateName)
	}
	if r.FinalName != nil {
		chain = append(chain, *r.FinalName)
	}
	fmt.Fprintf(w, "\n  %s\n\n", strings.Join(chain, " → "))
	fmt.Fprintf(w, "  %-13s %s\n", "parent", r.ParentName)
	fmt.Fprintf(w, "  %-13s %s\n", "source", r.SourceName)
	fmt.Fprintf(w, "  %-13s %s\n", "standard", deref(r.StandardName))
	fmt.Fprintf(w, "  %-13s %s\n", "intermediate", deref(r.IntermediateName))
	fmt.Fprintf(w, "  %-13s %s\n", "final", deref(r.FinalName))
	fmt.Fprintf(w, "  %-13s %s\n", "final time", formatTimestamp(r.FinalTimestamp))

	state := "waiting for standard and intermediate files"
	switch {
	case r.HasFinal():
		state = "final artifact recorded"
	case r.ReadyForFinal():
		state = "pending conversion"
	case r.StandardName != nil:
		state = "waiting for intermediate file"
	case r.IntermediateName != nil:
		state = "waiting for standard file"
	}
	fmt.Fprintf(w, "  %-13s %s\n", "state", state)
}

// printStatus writes the per-stage counts and up to limit pending and stale rows.
func printStatus(w io.Writer, st *ledger.StatusReport, limit int) {
	s := st.Stats
	fmt.Fprintf(w, "\n  Ledger %s: %d rows\n\n", st.Definition, s.Total)
	fmt.Fprintf(w, "  %-14s %d\n", "with standard", s.WithStandard)
	fmt.Fprintf(w, "  %-14s %d\n", "intermediate", s.WithIntermediate)
	fmt.Fprintf(w, "  %-14s %d\n", "final", s.WithFinal)
	fmt.Fprintf(w, "  %-14s %d\n", "pending", s.Pending)
	if st.Checked {
		fmt.Fprintf(w, "  %-14s %d\n", "stale", st.Stale)
	} else {
		fmt.Fprintf(w, "  %-14s %s\n", "stale", "not checked (pass --hdf5)")
	}

	if len(st.Pending) > 0 {
		fmt.Fprintf(w, "\n  Pending\n")
		for i, r := range st.Pending {
			if i == limit {
				fmt.Fprintf(w, "  ... and %d more\n", len(st.Pending)-limit)
				break
			}
			fmt.Fprintf(w, "  %s  %s\n", r.SourceName, deref(r.IntermediateName))
		}
	}
	if len(st.StaleRows) > 0 {
		fmt.Fprintf(w, "\n  Stale\n")
		for i, sr := range st.StaleRows {
			if i == limit {
				fmt.Fprintf(w, "  ... and %d more\n", len(st.StaleRows)-limit)
				break
			}
			fmt.Fprintf(w, "  %s  modified %s after conversion\n", sr.Row.SourceName, sr.Drift.Round(time.Second))
		}
	}
	if len(st.Unchecked) > 0 {
		fmt.Fprintf(w, "\n  Unreadable intermediates (%d)\n", len(st.Unchecked))
		for _, f := range st.Unchecked {
			fmt.Fprintf(w, "  %s: %s\n", f.Key, f.Error)
		}
	}
	fmt.Fprintln(w)
}

// printRuns writes the run log as a table, newest first.
func printRuns(w io.Writer, runs []db.RunEntry) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "  %-8s  %-8s  %-19s  %-10s  %5s %5s %5s %5s %5s\n",
		"ID", "STATUS", "STARTED", "COMMAND", "INS", "STD", "H5", "FLAT", "RFSH")
	for _, r := range runs {
		command := r.Command
		if len(command) > 10 {
			command = command[:10]
		}
		fmt.Fprintf(w, "  %-8s  %-8s  %-19s  %-10s  %5d %5d %5d %5d %5d\n",
			shortID(r.ID), r.Status, formatMillis(r.StartedAt), command,
			r.Inserted, r.LinkedStandard, r.LinkedIntermediate, r.Produced, r.Refreshed)
		if r.Error != nil {
			fmt.Fprintf(w, "            error: %s\n", *r.Error)
		}
	}
}
