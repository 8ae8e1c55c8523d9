package transport

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

// ServeStdio is the child side of the process transport. It announces
// readiness on w, then feeds requests decoded from r to exec until r ends,
// ctx is cancelled, or exec stops with an error.
func ServeStdio(ctx context.Context, r io.Reader, w io.Writer, exec Executor) error {
	enc := protocol.NewEncoder(w)
	if err := enc.Encode(protocol.Ready()); err != nil {
		return errors.Wrap(err, "announcing readiness")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := make(chan protocol.Request)
	var readErr error
	go func() {
		defer close(requests)
		dec := protocol.NewDecoder(r)
		for {
			req, err := dec.DecodeRequest()
			if err != nil {
				if err != io.EOF {
					readErr = err
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	err := exec.Serve(ctx, requests, func(resp protocol.Response) error {
		return enc.Encode(resp)
	})
	if err != nil {
		return err
	}
	// Serve returning nil means requests was closed, so readErr is settled.
	return readErr
}
