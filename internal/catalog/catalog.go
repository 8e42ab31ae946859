// Package catalog resolves dataset definitions, lineage parents and file
// locations through the SAM metadata catalog.
package catalog

import (
	"context"
	"errors"
)

var (
	// ErrNoParent is returned when a file's metadata lists no parents.
	ErrNoParent = errors.New("file has no lineage parent")
	// ErrNoLocation is returned when the catalog knows no location for a file.
	ErrNoLocation = errors.New("file has no known location")
)

// Catalog defines the read-only catalog operations the ledger needs.
type Catalog interface {
	// ListFiles returns the member file names of a dataset definition.
	ListFiles(ctx context.Context, definition string) ([]string, error)
	// Parent returns the first lineage parent of filename.
	Parent(ctx context.Context, filename string) (string, error)
	// Locate returns the directory holding filename.
	Locate(ctx context.Context, filename string) (string, error)
}
