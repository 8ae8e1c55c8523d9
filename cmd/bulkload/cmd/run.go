package cmd

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/utkarsh5026/bulkload/internal/config"
	"github.com/utkarsh5026/bulkload/internal/executor"
	"github.com/utkarsh5026/bulkload/internal/loader"
	"github.com/utkarsh5026/bulkload/internal/metrics"
	"github.com/utkarsh5026/bulkload/internal/protocol"
	"github.com/utkarsh5026/bulkload/internal/sink"
	"github.com/utkarsh5026/bulkload/internal/source"
	"github.com/utkarsh5026/bulkload/internal/transport"
	"github.com/utkarsh5026/bulkload/pool"
)

const shutdownTimeout = 10 * time.Second

func runCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the source CSV into the target table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := runLoad(cmd.Context(), a, cmd)
			if err == nil {
				return nil
			}
			if !a.config.Run.FailOnFatal {
				log.WithError(err).Warn("run failed; exiting cleanly as run.failOnFatal is off")
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringP("file", "f", "", "CSV file to load")
	flags.IntP("workers", "w", 0, "Number of workers (1-8); defaults to the CPU count")
	flags.Int("batch-size", 0, "Rows per batch")
	flags.String("delimiter", "", "CSV field delimiter; \\t for tab")
	flags.Int64("task-timeout-ms", 0, "Milliseconds a batch may stay outstanding")
	flags.Int("max-in-flight", 0, "Outstanding batch limit; defaults to twice the worker count")
	flags.Float64("rate-limit", 0, "Maximum batches dispatched per second; 0 is unlimited")
	flags.String("mode", "", "Worker mode: process or inprocess")
	flags.Bool("affinity", false, "Pin each worker process to one CPU (linux)")
	flags.Bool("truncate", true, "Truncate the target table before loading")
	flags.Bool("dry-run", false, "Validate and count rows without writing to Postgres")
	flags.Bool("progress", true, "Show a progress bar on stderr")
	flags.Bool("count-rows", true, "Count the source rows before loading")
	flags.Bool("fail-on-fatal", true, "Exit 1 when the run aborts")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	for key, name := range map[string]string{
		"source.path":        "file",
		"pool.size":          "workers",
		"source.batchSize":   "batch-size",
		"source.delimiter":   "delimiter",
		"pool.taskTimeoutMs": "task-timeout-ms",
		"pool.maxInFlight":   "max-in-flight",
		"pool.rateLimit":     "rate-limit",
		"pool.mode":          "mode",
		"pool.affinity":      "affinity",
		"run.truncate":       "truncate",
		"run.dryRun":         "dry-run",
		"run.progress":       "progress",
		"source.countRows":   "count-rows",
		"run.failOnFatal":    "fail-on-fatal",
		"run.metricsAddr":    "metrics-addr",
	} {
		mustBind(a.v, key, flags.Lookup(name))
	}
	return cmd
}

func runLoad(ctx context.Context, a *app, cmd *cobra.Command) error {
	c := a.config
	logger := log.WithField("component", "coordinator")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if c.Run.MetricsAddr != "" {
		srv := serveMetrics(c.Run.MetricsAddr, reg, logger)
		defer func() { _ = srv.Close() }()
	}

	opts := c.SourceOptions()
	var expected int64
	if c.Source.CountRows {
		n, err := source.CountRows(c.Source.Path, opts)
		if err != nil {
			return err
		}
		expected = n
		logger.WithField("rows", expected).Info("source rows counted")
	}

	reader, closer, err := source.Open(c.Source.Path, opts)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	var target sink.Sink
	if !c.Run.DryRun {
		coordinatorSink := c.SinkConfig()
		coordinatorSink.MaxConns = 1
		pg, err := sink.OpenPostgres(ctx, coordinatorSink)
		if err != nil {
			return err
		}
		defer pg.Close()
		target = pg
	}

	spawner, err := newSpawner(a)
	if err != nil {
		return err
	}

	p, err := pool.Initialize(ctx, spawner,
		pool.WithWorkerCount(c.Pool.Size),
		pool.WithTaskTimeout(c.TaskTimeout()),
		pool.WithStartupTimeout(c.StartupTimeout()),
		pool.WithRateLimit(c.Pool.RateLimit, c.Pool.RateBurst),
		pool.WithMetrics(m),
		pool.WithLogger(log.WithField("component", "pool")),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Shutdown(shutdownTimeout); err != nil {
			logger.WithError(err).Warn("pool shutdown")
		}
	}()
	logger.WithFields(log.Fields{
		"workers": p.WorkerCount(),
		"mode":    c.Pool.Mode,
		"file":    c.Source.Path,
	}).Info("pool started")

	loadOpts := loader.Options{
		Source:       reader,
		Pool:         p,
		Sink:         target,
		ExpectedRows: expected,
		Truncate:     c.Run.Truncate,
		MaxInFlight:  c.MaxInFlight(),
		Logger:       log.WithField("component", "loader"),
	}
	if c.Run.Progress {
		loadOpts.Progress = os.Stderr
	}

	summary, err := loader.Run(ctx, loadOpts)
	loader.Render(cmd.OutOrStdout(), summary)
	return err
}

// newSpawner picks the worker transport for the configured mode.
func newSpawner(a *app) (transport.Spawner, error) {
	c := a.config
	if c.Pool.Mode == config.ModeInProcess {
		return transport.NewInProcess(func(ctx context.Context, id int) (transport.Executor, error) {
			logger := log.WithFields(log.Fields{"component": "worker", "worker": id})
			exec, err := openExecutor(ctx, c, logger)
			if err != nil {
				return nil, err
			}
			return exec, nil
		}), nil
	}
	return transport.NewProcess(
		transport.WithEnv(config.ChildEnv(a.v)...),
		transport.WithAffinity(c.Pool.Affinity),
	)
}

// sinkExecutor closes its sink once the worker stops serving.
type sinkExecutor struct {
	*executor.Executor
	sink sink.Sink
}

func (e *sinkExecutor) Serve(ctx context.Context, requests <-chan protocol.Request, reply func(protocol.Response) error) error {
	defer e.sink.Close()
	return e.Executor.Serve(ctx, requests, reply)
}

// openExecutor connects a worker's sink and wraps it in an executor. Workers
// of a dry run get an in-memory sink.
func openExecutor(ctx context.Context, c config.Config, logger *log.Entry) (*sinkExecutor, error) {
	var s sink.Sink
	if c.Run.DryRun {
		s = sink.NewMemory()
	} else {
		pg, err := sink.OpenPostgres(ctx, c.SinkConfig())
		if err != nil {
			return nil, errors.Wrap(err, "connecting worker sink")
		}
		s = pg
	}

	exec := executor.New(s,
		executor.WithPrimaryKey(c.Worker.PrimaryKey),
		executor.WithNullMarker(c.Worker.NullMarker),
		executor.WithConcurrency(int(c.Postgres.MaxConns)),
		executor.WithLogger(logger),
	)
	return &sinkExecutor{Executor: exec, sink: s}, nil
}

func serveMetrics(addr string, g prometheus.Gatherer, logger *log.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}
