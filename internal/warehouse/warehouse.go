// Package warehouse defines the interface for the analytics warehouse.
// By using an interface, we decouple the pipeline from a specific warehouse
// implementation, allowing for easier testing and flexibility in the future.
package warehouse

import (
	"context"
	"fmt"
)

// RowError reports a row-level failure from a batch insert. A non-empty slice
// means the batch was written partially; the caller decides whether that
// downgrades the operation or fails it.
type RowError struct {
	Index  int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Index, e.Reason)
}

// Parameter is a named query parameter. Values may be scalars or string
// slices; slices bind as array parameters.
type Parameter struct {
	Name  string
	Value any
}

// Query is a parameterized SQL statement plus job metadata.
type Query struct {
	SQL        string
	Parameters []Parameter
	Labels     map[string]string
}

// Row is a single result row keyed by column name.
type Row map[string]any

// JobHandle identifies a submitted warehouse job and allows blocking until it
// finishes. Wait returns the job's terminal error, if any.
type JobHandle interface {
	ID() string
	Wait(ctx context.Context) error
}

// Client is the warehouse contract the pipeline consumes: batch inserts with
// row-level errors, fire-and-wait statements, asynchronous job submission, and
// row reads. Managed ML verbs (model fit, predict, text generation) go through
// Submit/Exec/ReadRows as ordinary SQL.
type Client interface {
	// InsertRows appends rows to the named table in one atomic call. It
	// returns row-level errors, or an error when the call itself failed.
	InsertRows(ctx context.Context, table string, rows any) ([]RowError, error)

	// Submit starts a query job and returns immediately with its handle.
	Submit(ctx context.Context, q Query) (JobHandle, error)

	// Exec submits a query job and blocks until it completes.
	Exec(ctx context.Context, q Query) error

	// ReadRows runs a query and invokes fn once per result row.
	ReadRows(ctx context.Context, q Query, fn func(Row) error) error

	// Close releases the underlying connection.
	Close() error
}
