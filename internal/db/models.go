package db

// DatasetRow represents a row in the dataset table. Column names are kept
// from existing ledgers: larcv_name, hdf5_name, flat_name, flat_time.
type DatasetRow struct {
	SourceName       string  `json:"source_name" yaml:"source_name"`             // larcv_name, primary key
	ParentName       string  `json:"parent_name" yaml:"parent_name"`             // lineage parent of the source file
	StandardName     *string `json:"standard_name" yaml:"standard_name"`         // processed CAF file in the catalog
	IntermediateName *string `json:"intermediate_name" yaml:"intermediate_name"` // hdf5_name, base name only
	FinalName        *string `json:"final_name" yaml:"final_name"`               // flat_name, full path
	FinalTimestamp   int64   `json:"final_timestamp" yaml:"final_timestamp"`     // flat_time, unix nanos of the intermediate mtime
}

// HasFinal reports whether the row has a recorded final artifact.
func (r DatasetRow) HasFinal() bool {
	return r.FinalName != nil && *r.FinalName != ""
}

// ReadyForFinal reports whether both inputs of the conversion are known.
func (r DatasetRow) ReadyForFinal() bool {
	return r.IntermediateName != nil && r.StandardName != nil
}

// Stats aggregates row counts over the dataset table
type Stats struct {
	Total            int `json:"total" yaml:"total"`
	WithStandard     int `json:"with_standard" yaml:"with_standard"`
	WithIntermediate int `json:"with_intermediate" yaml:"with_intermediate"`
	WithFinal        int `json:"with_final" yaml:"with_final"`
	Pending          int `json:"pending" yaml:"pending"`
}

// RunStatus is the outcome of a recorded batch run
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunPartial  RunStatus = "partial"
	RunFailed   RunStatus = "failed"
)

// RunEntry represents a row in the ledger_runs table
type RunEntry struct {
	ID                 string    `json:"id" yaml:"id"`
	Definition         string    `json:"definition" yaml:"definition"`
	Command            string    `json:"command" yaml:"command"`
	Status             RunStatus `json:"status" yaml:"status"`
	StartedAt          int64     `json:"started_at" yaml:"started_at"`                         // Unix millis
	CompletedAt        *int64    `json:"completed_at,omitempty" yaml:"completed_at,omitempty"` // Unix millis
	Inserted           int       `json:"inserted" yaml:"inserted"`
	LinkedStandard     int       `json:"linked_standard" yaml:"linked_standard"`
	LinkedIntermediate int       `json:"linked_intermediate" yaml:"linked_intermediate"`
	Produced           int       `json:"produced" yaml:"produced"`
	Refreshed          int       `json:"refreshed" yaml:"refreshed"`
	Failures           *string   `json:"failures,omitempty" yaml:"failures,omitempty"` // JSON string
	Error              *string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunCounts is what a finished run reports back to the log
type RunCounts struct {
	Inserted           int
	LinkedStandard     int
	LinkedIntermediate int
	Produced           int
	Refreshed          int
}
