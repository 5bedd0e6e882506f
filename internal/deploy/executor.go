// Package deploy pushes compiled views to BigQuery in dependency order.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/leapstack-labs/bqviews/internal/compiler"
)

// Executor runs the statement of one compiled view.
type Executor interface {
	Execute(ctx context.Context, view compiler.CompiledView) error
}

// ClientConfig configures the BigQuery client.
type ClientConfig struct {
	ProjectID string
	Location  string
	// CredentialsFile is an optional service-account key. When empty,
	// Application Default Credentials are used.
	CredentialsFile string
}

// BigQueryExecutor runs statements as BigQuery query jobs.
type BigQueryExecutor struct {
	client   *bigquery.Client
	location string
	logger   *slog.Logger
}

// NewBigQueryExecutor creates a client for cfg.ProjectID.
func NewBigQueryExecutor(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*BigQueryExecutor, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	logger.Debug("created BigQuery client", "project", cfg.ProjectID, "location", cfg.Location)
	return &BigQueryExecutor{client: client, location: cfg.Location, logger: logger}, nil
}

// Execute runs the view's CREATE VIEW statement and waits for the job.
func (e *BigQueryExecutor) Execute(ctx context.Context, view compiler.CompiledView) error {
	q := e.client.Query(view.SQL)
	if e.location != "" {
		q.Location = e.location
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	e.logger.Debug("started query job", "view", view.Name, "job_id", job.ID())

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job %s: %w", job.ID(), err)
	}
	return nil
}

// Close releases the underlying client.
func (e *BigQueryExecutor) Close() error {
	return e.client.Close()
}

// DryRunExecutor logs statements without contacting BigQuery.
type DryRunExecutor struct {
	Logger *slog.Logger
}

// Execute logs the statement that would run.
func (e DryRunExecutor) Execute(_ context.Context, view compiler.CompiledView) error {
	if e.Logger != nil {
		e.Logger.Info("dry run", "view", view.Name, "identifier", view.Identifier, "bytes", len(view.SQL))
	}
	return nil
}

// IsTransient reports whether err is a BigQuery API error worth retrying.
func IsTransient(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
