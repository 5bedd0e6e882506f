package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/bqviews/internal/compiler"
	"github.com/leapstack-labs/bqviews/internal/dag"
)

// Status is the outcome of deploying one view.
type Status string

// Deployment statuses.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ViewError reports a view that failed to deploy after all retries.
type ViewError struct {
	View string
	Err  error
}

func (e *ViewError) Error() string {
	return fmt.Sprintf("failed to deploy %s: %v", e.View, e.Err)
}

func (e *ViewError) Unwrap() error { return e.Err }

// Result describes the deployment of one view.
type Result struct {
	View       string
	Identifier string
	Status     Status
	Err        error
	Attempts   int
	Duration   time.Duration
	// SQL is the statement that was executed.
	SQL string
}

// Report collects the results of one deployment, in plan order.
type Report struct {
	Results  []Result
	Duration time.Duration
}

// Count returns the number of results with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Options configures a Deployer.
type Options struct {
	// Concurrency bounds how many views of one level deploy at once.
	Concurrency int
	// MaxRetries is the number of retries after a transient failure.
	MaxRetries int
	// Timeout bounds each view, retries included. Zero means no limit.
	Timeout time.Duration
	// Backoff is the initial retry delay, doubled on each attempt.
	Backoff time.Duration
	// OnResult is called after each view finishes, possibly concurrently.
	OnResult func(Result)
	Logger   *slog.Logger
}

// Deployer deploys compiled views through an Executor.
type Deployer struct {
	exec Executor
	opts Options
	log  *slog.Logger
}

// NewDeployer creates a deployer. Zero option values get defaults.
func NewDeployer(exec Executor, opts Options) *Deployer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Deployer{exec: exec, opts: opts, log: logger}
}

// Deploy runs the selected views of res. Views deploy one execution level at
// a time; a view whose dependency failed or was skipped is skipped. The
// returned error aggregates every *ViewError.
func (d *Deployer) Deploy(ctx context.Context, res *compiler.Result) (*Report, error) {
	start := time.Now()
	views := make(map[string]compiler.CompiledView, len(res.Views))
	for _, v := range res.Views {
		views[v.Name] = v
	}

	sub := res.Graph.Subgraph(res.Selected)
	levels, err := sub.GetExecutionLevels()
	if err != nil {
		return nil, fmt.Errorf("failed to plan deployment: %w", err)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]Result, len(views))
	)
	for i, level := range levels {
		d.log.Debug("deploying level", "level", i, "views", len(level))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.opts.Concurrency)
		for _, name := range level {
			view := views[name]

			mu.Lock()
			blocked := blockedBy(sub, name, results)
			mu.Unlock()

			if blocked != "" {
				r := Result{View: name, Identifier: view.Identifier, Status: StatusSkipped,
					Err: fmt.Errorf("dependency %s did not deploy", blocked)}
				d.record(&mu, results, r)
				continue
			}

			g.Go(func() error {
				d.record(&mu, results, d.deployOne(gctx, view))
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	report := &Report{Duration: time.Since(start)}
	var errs *multierror.Error
	for _, name := range res.Selected {
		r := results[name]
		report.Results = append(report.Results, r)
		if r.Status == StatusFailed {
			errs = multierror.Append(errs, &ViewError{View: name, Err: r.Err})
		}
	}
	return report, errs.ErrorOrNil()
}

func (d *Deployer) record(mu *sync.Mutex, results map[string]Result, r Result) {
	mu.Lock()
	results[r.View] = r
	mu.Unlock()
	if d.opts.OnResult != nil {
		d.opts.OnResult(r)
	}
}

func (d *Deployer) deployOne(ctx context.Context, view compiler.CompiledView) Result {
	start := time.Now()
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	attempts := 0
	backoff := retry.WithMaxRetries(uint64(d.opts.MaxRetries), retry.NewExponential(d.opts.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := d.exec.Execute(ctx, view)
		if err != nil && IsTransient(err) {
			d.log.Warn("transient error, retrying", "view", view.Name, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})

	r := Result{
		View:       view.Name,
		Identifier: view.Identifier,
		Status:     StatusSuccess,
		Attempts:   attempts,
		Duration:   time.Since(start),
		SQL:        view.SQL,
	}
	if err != nil {
		r.Status = StatusFailed
		r.Err = err
		d.log.Error("view deployment failed", "view", view.Name, "error", err)
	} else {
		d.log.Info("deployed view", "view", view.Name, "identifier", view.Identifier, "duration", r.Duration)
	}
	return r
}

// blockedBy returns the first dependency of name that did not succeed.
func blockedBy(g *dag.Graph, name string, results map[string]Result) string {
	for _, dep := range g.GetParents(name) {
		if r, ok := results[dep]; ok && r.Status != StatusSuccess {
			return dep
		}
	}
	return ""
}
