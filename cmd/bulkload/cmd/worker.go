package cmd

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/utkarsh5026/bulkload/internal/executor"
	"github.com/utkarsh5026/bulkload/internal/transport"
)

const workerCommandName = "worker"

// workerCmd is the entry point of a worker process. It speaks the protocol on
// stdin and stdout and logs to stderr.
func workerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    workerCommandName,
		Short:  "Serve batches from a coordinator over stdin and stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := log.WithFields(log.Fields{
				"component": "worker",
				"worker":    os.Getenv(transport.WorkerIDEnv),
				"pid":       os.Getpid(),
			})

			exec, err := openExecutor(ctx, a.config, logger)
			if err != nil {
				logger.WithError(err).Error("could not start")
				return err
			}

			err = transport.ServeStdio(ctx, os.Stdin, os.Stdout, exec)
			var fatal *executor.FatalError
			switch {
			case errors.As(err, &fatal):
				logger.WithError(err).Error("stopping on fatal sink error")
			case err != nil:
				logger.WithError(err).Error("worker stopped")
			default:
				logger.Debug("input closed")
			}
			return err
		},
	}
}
