package warehouse

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// BigQueryProvider implements the warehouse.Client interface using BigQuery.
type BigQueryProvider struct {
	client   *bigquery.Client
	dataset  string
	location string
}

// NewBigQueryProvider creates a BigQuery-backed warehouse client. It
// authenticates using Application Default Credentials. The dataset is the
// default dataset for unqualified table names; location must match where the
// dataset lives or job submission fails.
func NewBigQueryProvider(ctx context.Context, projectID, dataset, location string) (*BigQueryProvider, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &BigQueryProvider{
		client:   client,
		dataset:  dataset,
		location: location,
	}, nil
}

// InsertRows writes a batch through the streaming inserter. Row-level failures
// come back as RowErrors; the insert call itself succeeding with some rows
// rejected is not an error at this layer.
func (p *BigQueryProvider) InsertRows(ctx context.Context, table string, rows any) ([]RowError, error) {
	inserter := p.client.Dataset(p.dataset).Table(table).Inserter()
	err := inserter.Put(ctx, rows)
	if err == nil {
		return nil, nil
	}

	var multiErr bigquery.PutMultiError
	if errors.As(err, &multiErr) {
		rowErrs := make([]RowError, 0, len(multiErr))
		for _, rowErr := range multiErr {
			rowErrs = append(rowErrs, RowError{
				Index:  rowErr.RowIndex,
				Reason: rowErr.Error(),
			})
		}
		return rowErrs, nil
	}
	return nil, fmt.Errorf("insert into %s: %w", table, err)
}

// Submit starts the query job and returns its handle without waiting.
func (p *BigQueryProvider) Submit(ctx context.Context, q Query) (JobHandle, error) {
	job, err := p.newQuery(q).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit query job: %w", err)
	}
	return &bigQueryJob{job: job}, nil
}

// Exec submits the query and blocks until the job reports done.
func (p *BigQueryProvider) Exec(ctx context.Context, q Query) error {
	handle, err := p.Submit(ctx, q)
	if err != nil {
		return err
	}
	return handle.Wait(ctx)
}

// ReadRows runs the query and streams result rows to fn.
func (p *BigQueryProvider) ReadRows(ctx context.Context, q Query, fn func(Row) error) error {
	it, err := p.newQuery(q).Read(ctx)
	if err != nil {
		return fmt.Errorf("read query: %w", err)
	}
	for {
		var values map[string]bigquery.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("iterate rows: %w", err)
		}
		row := make(Row, len(values))
		for k, v := range values {
			row[k] = v
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Close shuts down the underlying BigQuery client.
func (p *BigQueryProvider) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close bigquery client: %w", err)
	}
	return nil
}

func (p *BigQueryProvider) newQuery(q Query) *bigquery.Query {
	query := p.client.Query(q.SQL)
	query.Location = p.location
	query.DefaultProjectID = p.client.Project()
	query.DefaultDatasetID = p.dataset
	if len(q.Labels) > 0 {
		query.Labels = q.Labels
	}
	if len(q.Parameters) > 0 {
		params := make([]bigquery.QueryParameter, 0, len(q.Parameters))
		for _, param := range q.Parameters {
			value := param.Value
			if value == nil {
				// The client rejects untyped nils; NULL strings cover every
				// nullable column the pipeline binds.
				value = bigquery.NullString{}
			}
			params = append(params, bigquery.QueryParameter{
				Name:  param.Name,
				Value: value,
			})
		}
		query.Parameters = params
	}
	return query
}

type bigQueryJob struct {
	job *bigquery.Job
}

func (j *bigQueryJob) ID() string {
	return j.job.ID()
}

func (j *bigQueryJob) Wait(ctx context.Context) error {
	status, err := j.job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for job %s: %w", j.job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job %s failed: %w", j.job.ID(), err)
	}
	return nil
}
