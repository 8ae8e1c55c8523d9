// Package executor runs inside a worker: it turns a batch request into
// normalized records, drops the invalid ones, and bulk-writes the rest.
package executor

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/bulkload/internal/protocol"
	"github.com/utkarsh5026/bulkload/internal/sink"
)

const (
	DefaultPrimaryKey = "registro_car"
	DefaultNullMarker = "NULL"
)

// FatalError is returned when the sink reports a condition the worker cannot
// recover from. The host is expected to terminate the worker.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal sink error: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

type executorConfig struct {
	primaryKey  string
	nullMarker  string
	concurrency int
	fatal       func(error) bool
	logger      *log.Entry
}

// Option configures an Executor.
type Option func(*executorConfig)

// WithPrimaryKey sets the field a record must carry to be stored.
func WithPrimaryKey(field string) Option {
	return func(c *executorConfig) {
		if field != "" {
			c.primaryKey = field
		}
	}
}

// WithNullMarker sets the literal primary key value treated as missing.
func WithNullMarker(marker string) Option {
	return func(c *executorConfig) {
		c.nullMarker = marker
	}
}

// WithConcurrency bounds how many tasks Serve runs at once. It should not
// exceed the sink's connection limit.
func WithConcurrency(n int) Option {
	return func(c *executorConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithFatalClassifier decides which sink errors are fatal for the worker.
func WithFatalClassifier(fn func(error) bool) Option {
	return func(c *executorConfig) {
		if fn != nil {
			c.fatal = fn
		}
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(c *executorConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Executor processes batch requests against a sink.
type Executor struct {
	sink sink.Sink
	cfg  executorConfig
}

func New(s sink.Sink, opts ...Option) *Executor {
	cfg := executorConfig{
		primaryKey:  DefaultPrimaryKey,
		nullMarker:  DefaultNullMarker,
		concurrency: 1,
		fatal:       sink.IsResourceExhausted,
		logger:      log.WithField("component", "executor"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Executor{sink: s, cfg: cfg}
}

// Execute processes one request and always produces a response for it. The
// error return is non-nil only for a *FatalError, in which case the response
// has already been built and should still be delivered.
func (e *Executor) Execute(ctx context.Context, req protocol.Request) (resp protocol.Response, fatal error) {
	defer func() {
		if r := recover(); r != nil {
			e.cfg.logger.WithField("task", req.ID).Errorf("panic while executing task: %v", r)
			resp = protocol.Failure(req.ID, protocol.KindExecution, fmt.Sprintf("panic: %v", r))
			fatal = nil
		}
	}()

	items, err := decodeItems(req.Items)
	if err != nil {
		return protocol.Failure(req.ID, protocol.KindValidation, err.Error()), nil
	}

	valid := make([]protocol.Record, 0, len(items))
	for i, raw := range items {
		record, err := decodeRecord(raw)
		if err != nil {
			return protocol.Failure(req.ID, protocol.KindExecution, fmt.Sprintf("item %d: %v", i, err)), nil
		}
		if IsValid(record, e.cfg.primaryKey, e.cfg.nullMarker) {
			valid = append(valid, record)
		}
	}

	if len(valid) > 0 {
		if err := e.sink.InsertMany(ctx, valid); err != nil {
			if e.cfg.fatal(err) {
				return protocol.Failure(req.ID, protocol.KindResourceExhausted, err.Error()), &FatalError{Err: err}
			}
			return protocol.Failure(req.ID, protocol.KindExecution, err.Error()), nil
		}
	}

	return protocol.Success(req.ID, len(valid), len(items)-len(valid)), nil
}

// Serve executes requests until the channel is closed and drained, ctx is
// cancelled, or a task hits a fatal sink error. Every request with an id gets
// exactly one reply unless Serve stops first; requests without an id are
// dropped.
func (e *Executor) Serve(ctx context.Context, requests <-chan protocol.Request, reply func(protocol.Response) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.concurrency)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case req, ok := <-requests:
			if !ok {
				break loop
			}
			if req.ID == "" {
				e.cfg.logger.Warn("dropping request without an id")
				continue
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				resp, fatal := e.Execute(gctx, req)
				if err := reply(resp); err != nil {
					return errors.Wrapf(err, "replying to task %s", req.ID)
				}
				return fatal
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
