package warehouse

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of the Client interface for testing.
type MockClient struct {
	mock.Mock
}

// InsertRows is the mock implementation of the InsertRows method.
func (m *MockClient) InsertRows(ctx context.Context, table string, rows any) ([]RowError, error) {
	args := m.Called(ctx, table, rows)
	var rowErrs []RowError
	if v := args.Get(0); v != nil {
		rowErrs = v.([]RowError)
	}
	return rowErrs, args.Error(1)
}

// Submit is the mock implementation of the Submit method.
func (m *MockClient) Submit(ctx context.Context, q Query) (JobHandle, error) {
	args := m.Called(ctx, q)
	var handle JobHandle
	if v := args.Get(0); v != nil {
		handle = v.(JobHandle)
	}
	return handle, args.Error(1)
}

// Exec is the mock implementation of the Exec method.
func (m *MockClient) Exec(ctx context.Context, q Query) error {
	args := m.Called(ctx, q)
	return args.Error(0) //nolint:wrapcheck
}

// ReadRows is the mock implementation of the ReadRows method. Configure rows
// to feed the callback via the Rows helper in the expectation's Run hook.
func (m *MockClient) ReadRows(ctx context.Context, q Query, fn func(Row) error) error {
	args := m.Called(ctx, q, fn)
	return args.Error(0) //nolint:wrapcheck
}

// Close is the mock implementation of the Close method.
func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}

// MockJob is a JobHandle stub with a fixed ID and scripted Wait error.
type MockJob struct {
	JobID   string
	WaitErr error
}

// ID returns the scripted job ID.
func (j *MockJob) ID() string { return j.JobID }

// Wait returns the scripted terminal error.
func (j *MockJob) Wait(_ context.Context) error { return j.WaitErr }
