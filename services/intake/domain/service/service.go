package service

import (
	"context"
	"io"

	"github.com/cohortmanager/platform/shared/entity"
)

// FileSource is where bulk extracts arrive and leave
type FileSource interface {
	// List returns the names of files waiting to be read
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes a fully processed file
	Delete(ctx context.Context, name string) error
	// Quarantine moves a rejected file to the poison location
	Quarantine(ctx context.Context, name string) error
}

// RawRow is one undecoded row keyed by lower-case column name
type RawRow struct {
	Number int
	Fields map[string]string
}

// RowReader streams rows out of a bulk extract. Next returns io.EOF after
// the last row.
type RowReader interface {
	Next() (RawRow, error)
	Close() error
}

// BatchDispatcher hands a batch to the record processor
type BatchDispatcher interface {
	Dispatch(ctx context.Context, batch *entity.Batch) error
}
