package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/utkarsh5026/bulkload/internal/config"
	"github.com/utkarsh5026/bulkload/internal/logging"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
	config     config.Config
}

// RootCmd builds the bulkload command tree.
func RootCmd() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:   "bulkload",
		Short: "Load a CSV file into Postgres through a pool of worker processes",
		Long: `
Load a CSV file into Postgres through a pool of worker processes.

Settings come from defaults, an optional config file (--config), BULKLOAD_*
environment variables and flags, in increasing order of precedence. The
DB_HOST, DB_PORT, DB_USER, DB_PASS, DB_NAME, DB_POOL_MAX, CLUSTER_SIZE and
BATCH_TIMEOUT_MS variables are honoured as well.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// stdout of a worker is the protocol stream.
			out := cmd.OutOrStdout()
			if cmd.Name() == workerCommandName {
				out = os.Stderr
			}
			return a.setup(out)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Path to a config file (yaml, json or toml)")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")
	mustBind(a.v, "logging.level", flags.Lookup("log-level"))
	mustBind(a.v, "logging.format", flags.Lookup("log-format"))

	cmd.AddCommand(
		runCmd(a),
		workerCmd(a),
		seedCmd(a),
		countCmd(a),
		truncateCmd(a),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx := createContextWithShutdown()
	if err := RootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func (a *app) setup(out io.Writer) error {
	c, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	if err := logging.Configure(c.Logging.Level, c.Logging.Format, out); err != nil {
		return errors.Wrap(err, "configuring logging")
	}
	a.config = c
	return nil
}

// createContextWithShutdown returns a context cancelled on SIGINT or SIGTERM.
func createContextWithShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			log.WithField("signal", sig.String()).Warn("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
